package security

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/crosswire/crosswire/pkg/models"
)

func inbound(channelID, text string) *models.InboundMessage {
	msg := models.NewInboundMessage(channelID, "u1", "conv1", "m1", time.Now(), models.TypeText)
	msg.Text = text
	return msg
}

func TestPolicy_Normalize(t *testing.T) {
	p := &Policy{Mode: ModeChatOnly, AllowExecute: true}
	p.Normalize()
	if p.AllowExecute {
		t.Error("chat_only must force allow_execute=false")
	}
	if !p.AllowsOperation("chat") {
		t.Error("chat must always be an allowed operation")
	}
}

func TestEngine_CommandWhitelist(t *testing.T) {
	e := NewEngine(nil)
	e.SetPolicy("c1", &Policy{
		Mode:             ModeChatOnly,
		AllowedCommands:  []string{"/help", "/session"},
		BlockOnViolation: true,
	})

	v, block := e.CheckInbound(inbound("c1", "/session new"))
	if v != nil || block {
		t.Errorf("whitelisted command flagged: v=%v block=%v", v, block)
	}

	v, block = e.CheckInbound(inbound("c1", "/rm -rf everything"))
	if v == nil || v.Type != ViolationCommandNotWhitelisted {
		t.Fatalf("expected command_not_whitelisted, got %v", v)
	}
	if !block {
		t.Error("block_on_violation policy must block")
	}

	// Non-blocking policy still records the violation.
	e.SetPolicy("c2", &Policy{
		Mode:             ModeChatOnly,
		AllowedCommands:  []string{"/help"},
		BlockOnViolation: false,
	})
	v, block = e.CheckInbound(inbound("c2", "/unknown"))
	if v == nil || block {
		t.Errorf("expected non-blocking violation, got v=%v block=%v", v, block)
	}
}

func TestEngine_ExecuteHeuristicNeverBlocks(t *testing.T) {
	e := NewEngine(nil)
	e.SetPolicy("c1", &Policy{
		Mode:             ModeChatOnly,
		AllowedCommands:  []string{"/help"},
		BlockOnViolation: true,
	})

	v, block := e.CheckInbound(inbound("c1", "please execute rm on the server"))
	if v == nil || v.Type != ViolationOperationDenied {
		t.Fatalf("expected operation_denied, got %v", v)
	}
	if block {
		t.Error("execute warnings must never block")
	}
}

func TestEngine_ViolationRingBounded(t *testing.T) {
	e := NewEngine(nil)
	e.SetPolicy("c1", &Policy{AllowedCommands: []string{"/help"}, BlockOnViolation: false})

	for i := 0; i < violationRingSize+50; i++ {
		e.CheckInbound(inbound("c1", "/nope"))
	}
	if got := len(e.RecentViolations(0)); got != violationRingSize {
		t.Errorf("ring size = %d, want %d", got, violationRingSize)
	}
}

func TestPolicy_ValidateAdminToken(t *testing.T) {
	sum := sha256.Sum256([]byte("hunter2"))
	p := &Policy{AdminTokenHash: hex.EncodeToString(sum[:])}

	if !p.ValidateAdminToken("hunter2") {
		t.Error("correct token rejected")
	}
	if p.ValidateAdminToken("hunter3") {
		t.Error("wrong token accepted")
	}
	if (&Policy{}).ValidateAdminToken("anything") {
		t.Error("empty hash must never validate")
	}
}

type captureSink struct{ got []*Violation }

func (c *captureSink) RecordViolation(v *Violation) { c.got = append(c.got, v) }

func TestEngine_SinkReceivesViolations(t *testing.T) {
	sink := &captureSink{}
	e := NewEngine(sink)
	e.SetPolicy("c1", &Policy{AllowedCommands: []string{"/help"}, BlockOnViolation: true})

	e.CheckInbound(inbound("c1", "/evil"))
	if len(sink.got) != 1 {
		t.Fatalf("sink received %d violations, want 1", len(sink.got))
	}
}
