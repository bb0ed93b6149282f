package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates the 'serve' subcommand, which runs the HTTP API until
// the process receives SIGINT or SIGTERM.
func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP fetch API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port and PORT)")
	return cmd
}

func runServe(ctx context.Context, portFlag int) error {
	state, err := resolveState(ctx)
	if err != nil {
		return err
	}
	logger := state.app.Logger()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", listenPort(state.cfg.Server.Port, portFlag)),
		Handler:           state.app.Server().Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// listenPort prefers the flag, then PORT, then the configured port.
func listenPort(configured, flag int) int {
	if flag > 0 {
		return flag
	}
	if env, err := strconv.Atoi(os.Getenv("PORT")); err == nil && env > 0 {
		return env
	}
	return configured
}
