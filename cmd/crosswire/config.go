package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crosswire/crosswire/internal/config"
	"github.com/crosswire/crosswire/internal/manifest"
)

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd())
	return cmd
}

// buildConfigValidateCmd creates "config validate": parse the file,
// then check each channel's settings against its manifest when one is
// available.
func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file and channel settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			registry := manifest.NewRegistry(cfg.ManifestDir, nil)
			if err := registry.Load(); err != nil {
				return err
			}

			failed := 0
			for _, ch := range cfg.Channels {
				m := manifestFor(registry, ch)
				if m == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s: no manifest, skipping settings check\n", ch.ID)
					continue
				}
				if err := m.ValidateConfig(ch.Settings); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s: INVALID: %v\n", ch.ID, err)
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  %s: ok\n", ch.ID)
			}
			if failed > 0 {
				return fmt.Errorf("%d channel(s) failed validation", failed)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "crosswire.yaml", "Path to YAML configuration file")
	return cmd
}

// manifestFor matches a channel to a manifest by instance id first,
// then by channel type.
func manifestFor(registry *manifest.Registry, ch config.ChannelConfig) *manifest.ChannelManifest {
	if m, err := registry.Get(ch.ID); err == nil {
		return m
	}
	if m, err := registry.Get(ch.Type); err == nil {
		return m
	}
	return nil
}
