// Package main provides tdfcctl, the command-line companion of the lookup
// server. It reads the same environment configuration and talks to the same
// index store, so it can rebuild or inspect the index without the server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/JonMunkholm/tdfc/internal/config"
	"github.com/JonMunkholm/tdfc/internal/core"
	"github.com/JonMunkholm/tdfc/internal/logging"
	"github.com/JonMunkholm/tdfc/internal/store"
	"github.com/JonMunkholm/tdfc/internal/xlsx"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if core.IsUserFacing(err) {
			fmt.Fprintln(os.Stderr, core.FormatUserError(err))
		}
		os.Exit(1)
	}
}

// cli carries state shared by every subcommand.
type cli struct {
	out    io.Writer
	pretty bool
	sheet  string
	cfg    *config.Config
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	rootCmd := &cobra.Command{
		Use:           "tdfcctl",
		Short:         "Inspect and rebuild the TDFC lookup index",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
			c.cfg = cfg
			return nil
		},
	}
	rootCmd.PersistentFlags().BoolVar(&c.pretty, "pretty", false, "Pretty-print JSON output")
	rootCmd.PersistentFlags().StringVar(&c.sheet, "sheet", "", "Sheet to use (default: TDFC_SHEET)")

	rootCmd.AddCommand(
		c.rebuildCmd(),
		c.lookupCmd(),
		c.statusCmd(),
		c.signatureCmd(),
		c.installCmd(),
	)
	return rootCmd
}

// withService opens the configured store, builds a service over it and
// closes the store when fn returns.
func (c *cli) withService(ctx context.Context, fn func(*core.Service) error) error {
	st, err := store.Open(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := store.ServiceOptions(c.cfg)
	opts.Logger = slog.Default()
	svc, err := core.NewService(st, xlsx.Opener{}, opts)
	if err != nil {
		return err
	}
	return fn(svc)
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	if c.pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func (c *cli) rebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the index from the installed spreadsheet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withService(cmd.Context(), func(svc *core.Service) error {
				sum, err := svc.Rebuild(cmd.Context(), c.sheet)
				if err != nil {
					return err
				}
				return c.print(sum)
			})
		},
	}
}

func (c *cli) lookupCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "lookup <imprime> <codeedi>",
		Short: "Look up the label for an imprimé and code EDI",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := core.ModeSingle
			if all {
				mode = core.ModeAll
			}
			return c.withService(cmd.Context(), func(svc *core.Service) error {
				res, err := svc.Lookup(cmd.Context(), core.LookupRequest{
					Sheet: c.sheet,
					KeyA:  args[0],
					KeyB:  args[1],
					Mode:  mode,
				})
				if err != nil {
					return err
				}
				if all {
					return c.print(map[string]any{"found": res.Found, "libelles": res.Labels})
				}
				return c.print(map[string]any{"found": res.Found, "libelle": res.Label})
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Return every distinct label instead of the first")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the index matches the installed spreadsheet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withService(cmd.Context(), func(svc *core.Service) error {
				st, err := svc.Status(cmd.Context(), c.sheet)
				if err != nil {
					return err
				}
				return c.print(st)
			})
		},
	}
}

func (c *cli) signatureCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "signature",
		Short: "Print the change-detection signature of the installed spreadsheet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if mode == "" {
				mode = c.cfg.Storage.SignatureMode
			}
			sheet := c.sheet
			if sheet == "" {
				sheet = c.cfg.Storage.Sheet
			}
			sig, err := core.SignatureComputer{Mode: core.SignatureMode(mode)}.Compute(c.cfg.Storage.SourcePath(), sheet)
			if err != nil {
				return err
			}
			if sig.IsZero() {
				return &core.ConfigurationError{Path: c.cfg.Storage.SourcePath(), Err: core.ErrNoSource}
			}
			_, err = fmt.Fprintln(c.out, sig)
			return err
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "Signature mode: stat or digest (default: TDFC_SIGNATURE_MODE)")
	return cmd
}

func (c *cli) installCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <file.xlsx>",
		Short: "Install a new spreadsheet and rebuild the default sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			return c.withService(cmd.Context(), func(svc *core.Service) error {
				sum, err := svc.InstallSource(cmd.Context(), f)
				if err != nil {
					return err
				}
				return c.print(sum)
			})
		},
	}
}
