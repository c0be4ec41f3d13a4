package cli

import (
	"bytes"
	stdcontext "context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	apihttp "github.com/Paintersrp/minicars/internal/api/http"
	"github.com/Paintersrp/minicars/internal/backend"
	"github.com/Paintersrp/minicars/internal/config"
	"github.com/Paintersrp/minicars/internal/logging"
	"github.com/Paintersrp/minicars/internal/shell"
	"github.com/Paintersrp/minicars/internal/tui"
)

var newAPIServer = apihttp.NewServer

func newRunCmd(ctx *context) *cobra.Command {
	var (
		useTUI  bool
		apiAddr string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the backend and keep it supervised until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("api") {
				cfg.API.Enabled = true
				cfg.API.Addr = apiAddr
			}
			if useTUI {
				if !supportsInteractiveOutput(cmd) {
					return fmt.Errorf("--tui requires an interactive terminal")
				}
				return runWithTUI(cmd, ctx, cfg)
			}
			return runHeadless(cmd, ctx, cfg)
		},
	}
	cmd.Flags().BoolVar(&useTUI, "tui", false, "Show the interactive status interface")
	cmd.Flags().StringVar(&apiAddr, "api", config.DefaultAPIAddr, "Enable the HTTP control API on this address")
	return cmd
}

func runHeadless(cmd *cobra.Command, ctx *context, cfg *config.Config) error {
	logger, cleanup, err := ctx.newLogger(cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer cleanup()

	runCtx := cmd.Context()
	sh := shell.New(backend.New(cfg, backend.WithLogger(logger)), logger)

	stopAPI, err := startAPI(runCtx, cfg, sh, logger)
	if err != nil {
		return err
	}

	if err := <-sh.Startup(runCtx); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), shell.Render(err))
	} else {
		st := sh.Snapshot()
		fmt.Fprintf(cmd.OutOrStdout(), "backend ready at %s (pid %d)\n", st.URL, st.PID)
	}

	<-runCtx.Done()
	<-sh.Close(stdcontext.Background())
	return stopAPI()
}

func runWithTUI(cmd *cobra.Command, ctx *context, cfg *config.Config) error {
	sink := &deferredWriter{}
	opts := ctx.loggingOptions(cfg)
	opts.Stdout = sink
	opts.Format = "console"
	logger, cleanup, err := logging.New(opts)
	if err != nil {
		return err
	}
	defer cleanup()

	runCtx := cmd.Context()
	sh := shell.New(backend.New(cfg, backend.WithLogger(logger)), logger)
	ui := tui.New(sh)
	sink.Attach(ui)

	stopAPI, err := startAPI(runCtx, cfg, sh, logger)
	if err != nil {
		return err
	}

	startup := sh.Startup(runCtx)
	go func() {
		// The shell logs a failed start; the UI shows it as the last error.
		<-startup
	}()

	uiErr := ui.Run(runCtx)
	<-sh.Close(stdcontext.Background())
	if err := stopAPI(); err != nil && uiErr == nil {
		uiErr = err
	}
	return uiErr
}

// startAPI starts the control API when enabled. The returned function stops
// it and reports any serve error.
func startAPI(ctx stdcontext.Context, cfg *config.Config, ctrl *shell.Shell, logger *zap.Logger) (func() error, error) {
	if !cfg.API.Enabled {
		return func() error { return nil }, nil
	}
	server, err := newAPIServer(apihttp.Config{
		Addr:       cfg.API.Addr,
		Controller: ctrl,
		Logger:     logger.Named("api"),
	})
	if err != nil {
		return nil, err
	}
	serverCtx, cancel := stdcontext.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(serverCtx)
	}()
	return func() error {
		cancel()
		err := <-errCh
		if err != nil && !errors.Is(err, stdcontext.Canceled) && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control api: %w", err)
		}
		return nil
	}, nil
}

// deferredWriter buffers output until a destination is attached. The logger
// must exist before the UI that displays its output.
type deferredWriter struct {
	mu  sync.Mutex
	dst io.Writer
	buf bytes.Buffer
}

func (w *deferredWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dst == nil {
		return w.buf.Write(p)
	}
	return w.dst.Write(p)
}

// Attach flushes buffered output to dst and forwards later writes to it.
func (w *deferredWriter) Attach(dst io.Writer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		_, _ = dst.Write(w.buf.Bytes())
		w.buf.Reset()
	}
	w.dst = dst
}
