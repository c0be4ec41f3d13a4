package cli

import (
	stdcontext "context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/minicars/internal/backend"
	"github.com/Paintersrp/minicars/internal/shell"
)

func newEnsureCmd(ctx *context) *cobra.Command {
	var keep bool
	cmd := &cobra.Command{
		Use:   "ensure",
		Short: "Start the backend once and report whether it became ready",
		Long: "Start the backend and wait for its health endpoint. The backend is " +
			"stopped before the command exits unless --keep is set, in which case " +
			"the command stays in the foreground until interrupted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			logger, cleanup, err := ctx.newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer cleanup()

			sh := shell.New(backend.New(cfg, backend.WithLogger(logger)), logger)
			defer func() { <-sh.Close(stdcontext.Background()) }()

			runCtx := cmd.Context()
			if _, err := sh.EnsureBackendRunning(runCtx); err != nil {
				return err
			}
			st := sh.Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "ready pid=%d\n", st.PID)

			if keep {
				<-runCtx.Done()
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&keep, "keep", false, "Keep the backend running until interrupted")
	return cmd
}
