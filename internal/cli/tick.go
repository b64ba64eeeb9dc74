package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"ebbinghaus/internal/app"
	"ebbinghaus/internal/config"
)

func newTickCommand(opts *RootOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduler pass and exit",
		Long:  "Delivers every due reminder once, advances the schedules, prints the tick report and exits. The HTTP server is not started.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfgm := config.NewConfigManager(opts.ConfigPath)
			cfg, err := cfgm.Parse()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			one := cfg.Clone()
			one.Server.Enabled = false
			one.Systemd.Notify = false
			if dryRun {
				one.Mail.Transport = "log"
			}
			cfgm.Commit(one)

			a, err := app.New(ctx, cfgm)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = a.Stop(sctx, app.StopFinished)
			}()

			rep, err := a.Scheduler().Tick(ctx)
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), rep, func(w io.Writer) {
				fmt.Fprintf(w, "tick %s: due=%d delivered=%d advanced=%d completed=%d delivery_failed=%d update_failed=%d skipped=%d took=%s\n",
					rep.TickID, rep.Due, rep.Delivered, rep.Advanced, rep.Completed,
					rep.DeliveryFailed, rep.UpdateFailed, rep.Skipped, rep.Took)
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log mails instead of sending them")
	return cmd
}
