// File: cmd/serve.go
package cmd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sourcepack/pkg/logging"
	"sourcepack/pkg/server"
)

// newServeCmd runs the HTTP and websocket front end. The configuration
// loaded from the config file and environment becomes the default of every
// request.
func newServeCmd(a *app) *cobra.Command {
	var (
		addr    string
		workers int
		queue   int
		tempDir string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve pack runs of GitHub repositories over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			s := server.New(server.Options{
				Workers:   workers,
				QueueSize: queue,
				Defaults:  cfg,
				TempDir:   tempDir,
				Registry:  reg,
				Logger:    logging.Logger,
			})
			logging.Logger.Info("Starting server",
				zap.String("addr", addr),
				zap.Int("workers", workers),
				zap.String("format", cfg.Format),
			)
			return s.ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent pack runs (default: one per CPU)")
	cmd.Flags().IntVar(&queue, "queue", 16, "pack runs waiting for a worker before requests are refused")
	cmd.Flags().StringVar(&tempDir, "temp-dir", "", "directory for staged documents (default: the system temp directory)")
	return cmd
}
