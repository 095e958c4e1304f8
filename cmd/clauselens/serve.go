package clauselens

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clauselens/clauselens/internal/server"
)

var (
	srvAddr      string
	srvOrigins   string
	srvMaxUpload int64
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline over HTTP with a WebSocket progress feed",
		Long: `Serve exposes artifact upload, run submission, status, results, reports
and per-run event streams. GET /runs/{id}/events upgrades to a WebSocket
when asked and otherwise returns the events after ?cursor= as JSON.`,
		RunE: runServe,
	}
	rootCmd.AddCommand(cmd)
	cmd.Flags().StringVar(&srvAddr, "addr", "", "listen address (default server.addr or 127.0.0.1:8645)")
	cmd.Flags().StringVar(&srvOrigins, "allowed-origins", "", "comma-separated origins allowed to open WebSocket feeds (default any)")
	cmd.Flags().Int64Var(&srvMaxUpload, "max-upload", 8<<20, "maximum request body in bytes")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := os.Getwd()
	if err != nil {
		return err
	}
	s, err := openSession(ctx, root, "info")
	if err != nil {
		return err
	}
	defer s.Close()

	addr := srvAddr
	if addr == "" {
		addr = s.cfg.GetServer().GetAddr()
	}
	opts := []server.Option{server.WithLogger(s.log), server.WithMaxUpload(srvMaxUpload)}
	if origins := splitList(srvOrigins); len(origins) > 0 {
		opts = append(opts, server.WithAllowedOrigins(origins...))
	}
	if s.cfg.GetEvidence().GetDBPath() == "" {
		s.log.Warn("evidence store is in memory; uploads are lost on exit")
	}
	srv := server.New(s.engine, s.engine.Store, opts...)
	fmt.Fprintf(os.Stderr, "clauselens listening on http://%s\n", addr)
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		s.log.Error("server stopped", zap.Error(err))
		return err
	}
	return nil
}
