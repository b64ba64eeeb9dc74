package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ebbinghaus/internal/app"
	"ebbinghaus/internal/config"
	"ebbinghaus/internal/phase"
	"ebbinghaus/internal/storage"
	logx "ebbinghaus/pkg/logx"
)

// ErrPhasesPresent is returned by "phases seed" when the store already has a
// phase table and --force was not given.
var ErrPhasesPresent = errors.New("store already has phases (use --force to replace)")

func newPhasesCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phases",
		Short: "Inspect or seed the stored phase table",
	}
	cmd.AddCommand(newPhasesCheckCommand(opts))
	cmd.AddCommand(newPhasesSeedCommand(opts))
	return cmd
}

type phaseRow struct {
	Number int    `json:"number"`
	Wait   string `json:"wait"`
	After  string `json:"after"`
}

type phasesOutput struct {
	Phases []phaseRow `json:"phases"`
	Total  string     `json:"total"`
}

func describe(t *phase.Table) phasesOutput {
	out := phasesOutput{Total: t.Total().String()}
	var after time.Duration
	for i, ph := range t.Phases() {
		if i > 0 {
			after += ph.Wait
		}
		out.Phases = append(out.Phases, phaseRow{
			Number: ph.Number,
			Wait:   ph.Wait.String(),
			After:  after.String(),
		})
	}
	return out
}

func newPhasesCheckCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the stored phase table",
		Long:  "Loads the phase table from the configured store and validates it. Exits non-zero if the table is empty or malformed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := opts.load()
			if err != nil {
				return err
			}
			pc := cfg.Phases
			pc.SeedIfEmpty = false
			table, err := withStore(cmd.Context(), cfg, func(ctx context.Context, st storage.Store) (*phase.Table, error) {
				return app.LoadPhases(ctx, st, pc, logx.Nop())
			})
			if err != nil {
				return err
			}
			out := describe(table)
			return opts.emit(cmd.OutOrStdout(), out, func(w io.Writer) {
				printPhases(w, out)
			})
		},
	}
}

func newPhasesSeedCommand(opts *RootOptions) *cobra.Command {
	var (
		force    bool
		defaults bool
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write the configured phase sequence to the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := opts.load()
			if err != nil {
				return err
			}
			seed := phase.Default()
			if !defaults {
				if seed, err = cfg.Phases.List(); err != nil {
					return err
				}
			}
			table, err := phase.New(seed)
			if err != nil {
				return err
			}
			_, err = withStore(cmd.Context(), cfg, func(ctx context.Context, st storage.Store) (*phase.Table, error) {
				existing, err := st.LoadPhases(ctx)
				if err != nil {
					return nil, err
				}
				if len(existing) > 0 && !force {
					return nil, ErrPhasesPresent
				}
				return table, st.SeedPhases(ctx, table.Phases())
			})
			if err != nil {
				return err
			}
			out := describe(table)
			return opts.emit(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintf(w, "seeded %d phases\n", table.Len())
				printPhases(w, out)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing phase table")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "seed the built-in sequence instead of phases.sequence")
	return cmd
}

func printPhases(w io.Writer, out phasesOutput) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tWAIT\tAFTER")
	for _, r := range out.Phases {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", r.Number, r.Wait, r.After)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "total: %s\n", out.Total)
}

func withStore(ctx context.Context, cfg *config.Config, fn func(context.Context, storage.Store) (*phase.Table, error)) (*phase.Table, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := app.OpenStore(ctx, cfg, logx.Nop())
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return fn(ctx, st)
}
