package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/minicars/internal/backend"
	"github.com/Paintersrp/minicars/internal/shell"
)

func newResolveCmd(ctx *context) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Show which backend directory and interpreter would be used",
		Args:  cobra.NoArgs,
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

			out := cmd.OutOrStdout()
			resolver := backend.NewPathResolver(cfg)
			resolver.Logger = logger.Named("resolver")
			loc, err := resolver.Resolve()
			if err != nil {
				var be *backend.Error
				if errors.As(err, &be) {
					fmt.Fprintln(out, "tried:")
					for _, path := range be.TriedPaths {
						fmt.Fprintf(out, "  %s\n", path)
					}
				}
				return errors.New(shell.Render(err))
			}
			fmt.Fprintf(out, "mode:        %s\n", cfg.Mode)
			fmt.Fprintf(out, "dir:         %s\n", loc.Dir)
			fmt.Fprintf(out, "source:      %s\n", loc.Source)

			locator := backend.NewInterpreterLocator(cfg)
			locator.Logger = logger.Named("interpreter")
			interpreter, err := locator.Locate(cmd.Context())
			if err != nil {
				fmt.Fprintln(out, "interpreter: -")
				return errors.New(shell.Render(err))
			}
			fmt.Fprintf(out, "interpreter: %s\n", interpreter)
			return nil
		},
	}
}
