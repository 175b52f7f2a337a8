package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/coldline/internal/config"
)

// ConfigResult is the effective configuration.
type ConfigResult struct {
	Config *config.Config `json:"config"`
}

// Text implements Texter.
func (r ConfigResult) Text(w io.Writer) {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	_ = enc.Encode(r.Config)
	_ = enc.Close()
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate or print the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a configuration file",
		Long: `Load a configuration file (or the --config file), apply COLDLINE_*
environment overrides and check it against the schema. Every violation is
reported.

Exit codes:
  0 - Configuration is valid
  1 - Configuration has violations
  2 - File could not be read or parsed`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.ConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			return runConfigValidate(rootOpts, path, cmd)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, rootOpts)
			cfg, err := loadConfig(rootOpts, out)
			if err != nil {
				return err
			}
			return out.Success(ConfigResult{Config: cfg})
		},
	})
	return cmd
}

func runConfigValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts)

	_, err := config.Load(path)
	var verr *config.ValidationError
	if errors.As(err, &verr) {
		if opts.Format != "json" {
			fmt.Fprintf(out.Writer, "Configuration has %d problem(s):\n", len(verr.Fields))
			for _, f := range verr.Fields {
				fmt.Fprintf(out.Writer, "  - %s\n", f.Error())
			}
		} else {
			_ = out.Error(ErrCodeConfig, "invalid configuration", verr.Fields)
		}
		return WrapExitError(ExitFailure, "invalid configuration", err)
	}
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeConfig, "failed to load configuration", err)
	}

	if path == "" {
		path = "defaults"
	}
	return out.Success(fmt.Sprintf("Configuration valid: %s", path))
}
