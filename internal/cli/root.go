package cli

import (
	stdcontext "context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Paintersrp/minicars/internal/config"
	"github.com/Paintersrp/minicars/internal/logging"
)

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	ctx := &context{}

	root := &cobra.Command{
		Use:   "minicars",
		Short: "Supervise the MiniCars backend process",
	}

	root.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", config.DefaultPath, "Path to the configuration file")
	root.PersistentFlags().StringVar(&ctx.mode, "mode", "", "Override the runtime mode (development or production)")
	root.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "", "Override the log level")

	root.AddCommand(newRunCmd(ctx))
	root.AddCommand(newEnsureCmd(ctx))
	root.AddCommand(newResolveCmd(ctx))
	root.AddCommand(newStatusCmd(ctx))
	root.AddCommand(newConfigCmd(ctx))

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// context carries the persistent flag values shared by every subcommand.
type context struct {
	configPath string
	mode       string
	logLevel   string
}

// loadConfig reads the configuration file, falling back to defaults when it
// is missing, and applies command line overrides.
func (c *context) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.mode != "" {
		mode, err := config.ParseMode(c.mode)
		if err != nil {
			return nil, fmt.Errorf("--mode: %w", err)
		}
		cfg.Mode = mode
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *context) loggingOptions(cfg *config.Config) logging.Options {
	return logging.FromConfig(cfg.Logging)
}

// newLogger builds the process logger with console output sent to w.
func (c *context) newLogger(cfg *config.Config, w io.Writer) (*zap.Logger, func(), error) {
	opts := c.loggingOptions(cfg)
	opts.Stdout = w
	return logging.New(opts)
}

func supportsInteractiveOutput(cmd *cobra.Command) bool {
	f, ok := cmd.OutOrStdout().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
