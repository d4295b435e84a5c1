package security

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SlackTimestampSkew is the maximum accepted age of a Slack signature.
const SlackTimestampSkew = 5 * time.Minute

// twilioSigningBase builds url + concat(sorted key||value) per Twilio's
// request validation scheme.
func twilioSigningBase(url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(url)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}
	return b.String()
}

// VerifyTwilioSHA256 checks the hex HMAC-SHA256 variant used by the
// WhatsApp webhook.
func VerifyTwilioSHA256(authToken, url string, params map[string]string, signature string) bool {
	mac := hmac.New(sha256.New, []byte(authToken))
	mac.Write([]byte(twilioSigningBase(url, params)))
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(signature))) == 1
}

// VerifyTwilioSHA1 checks the base64 HMAC-SHA1 variant used by the SMS
// webhook.
func VerifyTwilioSHA1(authToken, url string, params map[string]string, signature string) bool {
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(twilioSigningBase(url, params)))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// SlackSignature computes the v0 signature for a timestamp and body.
func SlackSignature(signingSecret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(signingSecret))
	fmt.Fprintf(mac, "v0:%s:", timestamp)
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySlack checks Slack's v0 signing scheme and rejects stale
// timestamps to defeat replay.
func VerifySlack(signingSecret string, body []byte, timestamp, signature string, now time.Time) bool {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := now.Unix() - ts
	if age < 0 {
		age = -age
	}
	if age > int64(SlackTimestampSkew.Seconds()) {
		return false
	}
	expected := SlackSignature(signingSecret, timestamp, body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// VerifyTelegram compares the secret-token header against the configured
// secret in constant time.
func VerifyTelegram(secret, header string) bool {
	if secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(header)) == 1
}

// VerifyDiscord checks the Ed25519 signature over timestamp||body using
// the application's hex-encoded public key.
func VerifyDiscord(publicKeyHex, timestamp string, body []byte, signatureHex string) bool {
	key, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	payload := make([]byte, 0, len(timestamp)+len(body))
	payload = append(payload, timestamp...)
	payload = append(payload, body...)
	return ed25519.Verify(ed25519.PublicKey(key), payload, sig)
}

// HashPhoneNumber returns the SHA-256 hex digest of a phone number so
// audit rows never carry the number itself.
func HashPhoneNumber(number string) string {
	sum := sha256.Sum256([]byte(number))
	return hex.EncodeToString(sum[:])
}
