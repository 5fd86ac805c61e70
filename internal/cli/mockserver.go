package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/fitsync/backend/internal/logging"
	"github.com/kimhsiao/fitsync/backend/internal/sync/mockapi"
)

var mockServerCmd = &cobra.Command{
	Use:     "mock-server",
	Short:   "Run an in-memory server speaking the sync API",
	Long:    "Run an in-memory server that accepts pushes and serves pulls. State is lost on exit.",
	GroupID: "admin",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := cfg.Mock.Addr
		if cmd.Flags().Changed("addr") {
			addr, _ = cmd.Flags().GetString("addr")
		}

		ctx, cancel := signalContext()
		defer cancel()

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}

		server := &http.Server{
			Handler:      mockapi.New(mockapi.WithRequestLog()).Routes(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		PrintSuccess("Mock server listening on http://" + ln.Addr().String())
		logging.Info("Mock server started", map[string]interface{}{"addr": ln.Addr().String()})

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
		}

		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		logging.Info("Mock server stopped")
		return nil
	},
}

func init() {
	mockServerCmd.Flags().String("addr", "", "Listen address (default from mock.addr)")
	rootCmd.AddCommand(mockServerCmd)
}
