package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceEDB/internal/metrics"
	"github.com/OpenTraceLab/OpenTraceEDB/internal/server"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/archive"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/index"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/ports"
	"github.com/OpenTraceLab/OpenTraceEDB/pkg/workspace"
)

var (
	serveAddr      string
	serveWorkspace string
	serveDebug     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	Long: `Serves uploads, net queries and port downloads over HTTP.

Routes:
  POST /upload                   zip upload, returns the design index
  POST /download                 add ports to a copy, returns the zip
  POST /api/common_components    components shared by a set of nets
  GET  /api/sessions/:id/index   stored index of a session
  GET  /health, /metrics`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveWorkspace, "workspace", "", "workspace root (overrides config)")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "gin debug mode")
}

// openStore builds the index store named by the configuration. The returned
// func releases it.
func openStore(root string) (index.Store, func() error, error) {
	switch cfg.Index.Backend {
	case "memory":
		return index.NewMemoryStore(), func() error { return nil }, nil
	case "badger":
		bs, err := index.OpenBadgerStore(index.BadgerConfig{Path: cfg.Index.BadgerPath, Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return bs, bs.Close, nil
	case "file":
		return index.NewFileStore(root), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveWorkspace != "" {
		cfg.Workspace.Root = serveWorkspace
	}
	if serveDebug {
		cfg.Server.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine, err := newEngine()
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(cfg.Workspace.Root)
	if err != nil {
		return err
	}
	defer closeStore()

	ws, err := workspace.New(cfg.Workspace.Root, engine, store,
		workspace.WithLogger(logger),
		workspace.WithMaxRuns(cfg.Workspace.MaxConcurrentRuns),
		workspace.WithLimits(archive.Limits{
			MaxEntries:    cfg.Workspace.MaxEntries,
			MaxTotalBytes: uint64(cfg.Server.MaxUploadBytes) * 8,
		}),
		workspace.WithResolverOptions(
			ports.WithDefaultImpedance(cfg.Resolver.DefaultImpedance),
			ports.WithStrictImpedance(cfg.Resolver.StrictImpedance),
		),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return server.New(cfg.Server, ws, metrics.New(), logger).Run(ctx)
}
