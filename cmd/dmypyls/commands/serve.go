package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/teranos/dmypyls/errors"
	"github.com/teranos/dmypyls/logger"
	"github.com/teranos/dmypyls/metrics"
	"github.com/teranos/dmypyls/server"
	"github.com/teranos/dmypyls/version"
	"go.uber.org/zap"
)

// ServeCmd starts the language server
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the dmypy language server",
	Long: `Start the language server. Editors talk to it over stdin/stdout unless
--tcp or --ws is given, in which case every connection is its own session
with its own dmypy daemon.

Examples:
  dmypyls serve                          # stdio, for editor integration
  dmypyls serve --tcp 127.0.0.1:2087     # one session per TCP connection
  dmypyls serve --ws :2088 --metrics-addr :9090`,
	RunE: runServe,
}

func init() {
	ServeCmd.Flags().String("tcp", "", "Accept LSP clients on this TCP address instead of stdio")
	ServeCmd.Flags().String("ws", "", "Accept LSP clients over WebSocket on this address instead of stdio")
	ServeCmd.Flags().String("metrics-addr", "", "Serve /metrics and /healthz on this address")
	ServeCmd.Flags().String("on-save", "", "What a save triggers: recheck or check")
	ServeCmd.Flags().String("dmypy", "", "dmypy client command, e.g. \"python -m mypy.dmypy\"")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, files, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := initLogger(cfg); err != nil {
		return err
	}
	defer logger.Cleanup()

	log := logger.Logger.Named("dmypyls")
	log.Infow("starting",
		logger.FieldVersion, version.Get().ServerVersion(),
		"config_files", files,
		"on_save", cfg.Analysis.OnSave,
		logger.FieldCommand, cfg.Worker.Command,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := server.Options{Config: cfg, Logger: log}

	var registry *prometheus.Registry
	if cfg.Server.MetricsAddr != "" {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		recorder := metrics.NewRecorder(registry)
		opts.Observers = func(session string) (server.Observer, func()) {
			observer := recorder.Session(session)
			return observer, observer.Close
		}
	}

	srv, err := server.New(opts)
	if err != nil {
		return err
	}

	if registry != nil {
		stopMetrics := serveMetrics(cfg.Server.MetricsAddr, metrics.Handler(registry, srv.Health), log)
		defer stopMetrics()
	}

	tcpAddr, _ := cmd.Flags().GetString("tcp")
	wsAddr, _ := cmd.Flags().GetString("ws")

	switch {
	case tcpAddr != "" && wsAddr != "":
		return errors.New("--tcp and --ws cannot be used together")
	case tcpAddr != "":
		return srv.ServeTCP(ctx, tcpAddr)
	case wsAddr != "":
		return srv.ServeWebSocket(ctx, wsAddr)
	default:
		return srv.ServeStdio(ctx)
	}
}

// serveMetrics runs the metrics endpoint in the background and returns a
// function that shuts it down.
func serveMetrics(addr string, handler http.Handler, log *zap.SugaredLogger) func() {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infow("serving metrics", logger.FieldAddress, addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("metrics endpoint failed", logger.FieldAddress, addr, logger.FieldError, err.Error())
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctx)
	}
}
