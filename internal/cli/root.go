// Package cli is the ebbinghaus command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"ebbinghaus/internal/config"
)

// EnvConfigPath overrides the default of --config.
const EnvConfigPath = "EBBINGHAUS_CONFIG"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "text" | "json"
}

var validFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	defPath := "./config.yaml"
	if p := os.Getenv(EnvConfigPath); p != "" {
		defPath = p
	}

	cmd := &cobra.Command{
		Use:           "ebbinghaus",
		Short:         "Spaced-repetition reminder service",
		Long:          "ebbinghaus stores reminders and mails each one back on a forgetting-curve schedule.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", defPath, "config file (.json, .yaml or .toml)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newPhasesCommand(opts))
	cmd.AddCommand(newTickCommand(opts))
	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
		return 1
	}
	return 0
}

func (o *RootOptions) load() (*config.ConfigManager, *config.Config, error) {
	m := config.NewConfigManager(o.ConfigPath)
	cfg, err := m.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return m, cfg, nil
}

// emit writes v as indented JSON, or calls text for the text format.
func (o *RootOptions) emit(w io.Writer, v any, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
