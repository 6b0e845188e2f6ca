package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lumastream/luma/config"
	"github.com/lumastream/luma/logger"
	"github.com/lumastream/luma/model"
	"github.com/lumastream/luma/server"
	"github.com/lumastream/luma/version"
)

// Process exit codes.
const (
	exitOK           = 0
	exitListenFailed = 1 // could not open the listen socket
	exitModelFailed  = 2 // fatal model-pool initialization at startup
)

var (
	serveAddr       string
	serveConfigFile string
)

// ServeCmd starts the segmentation gateway.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the segmentation gateway",
	Long: `Start the WebSocket segmentation gateway.

The gateway accepts browser clients on /ws, exposes /health and /version,
and serves until SIGINT/SIGTERM. Models load lazily on first use unless
models.prewarm lists modes to load and warm at startup.`,
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	ServeCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.listen_addr)")
	ServeCmd.Flags().StringVar(&serveConfigFile, "config", "", "Config file path (default: ./luma.toml)")
}

func runServe() {
	log := logger.Logger

	cfg, err := loadConfig()
	if err != nil {
		log.Errorw("Config load failed", "error", err)
		os.Exit(exitListenFailed)
	}
	if serveAddr != "" {
		cfg.Server.ListenAddr = serveAddr
	}

	log.Infow("Starting Luma gateway",
		"version", version.Get().Short(),
		"addr", cfg.Server.ListenAddr,
		"default_mode", cfg.Models.DefaultMode,
	)

	pool := model.NewPool(model.NewORTLoader(cfg.Models, log), log)
	gw := server.New(cfg, pool, log)

	if err := prewarm(cfg, pool, log); err != nil {
		log.Errorw("Model pool initialization failed", "error", err)
		pool.Clear()
		model.ShutdownRuntime()
		os.Exit(exitModelFailed)
	}

	watcher := startConfigWatcher(gw, log)
	if watcher != nil {
		defer watcher.Close()
	}

	// Graceful shutdown on Ctrl-C / SIGTERM.
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Errorw("Failed to serve", "error", err)
			model.ShutdownRuntime()
			os.Exit(exitListenFailed)
		}
	case <-sigCtx.Done():
		log.Infow("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Warnw("Shutdown incomplete", "error", err)
	}
	model.ShutdownRuntime()
	logger.Cleanup()
	os.Exit(exitOK)
}

func loadConfig() (*config.Config, error) {
	if serveConfigFile != "" {
		return config.LoadFromFile(serveConfigFile)
	}
	return config.Load()
}

// prewarm loads and warms the configured modes before accepting traffic.
// Any failure here is fatal: a gateway that cannot produce its startup
// models should not come up half-alive.
func prewarm(cfg *config.Config, pool *model.Pool, log *zap.SugaredLogger) error {
	ctx := context.Background()
	for _, name := range cfg.Models.Prewarm {
		mode, err := model.ParseMode(name)
		if err != nil {
			return err
		}
		log.Infow("Prewarming model", "mode", mode.String())
		m, err := pool.Get(ctx, mode)
		if err != nil {
			return err
		}
		spec := mode.Spec()
		input := make([]float32, 3*spec.InputH*spec.InputW)
		shape := []int64{1, 3, int64(spec.InputH), int64(spec.InputW)}
		err = pool.EnsureWarm(mode, func() error {
			for i := 0; i < cfg.Engine.WarmupIterations; i++ {
				if _, err := m.Forward(ctx, input, shape); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// startConfigWatcher wires reloadable keys to the running gateway.
// Best-effort: no config file on disk means no watcher.
func startConfigWatcher(gw *server.Gateway, log *zap.SugaredLogger) *config.Watcher {
	path := serveConfigFile
	if path == "" {
		path = "luma.toml"
	}
	if _, err := os.Stat(path); err != nil {
		log.Debugw("No config file to watch", "path", path)
		return nil
	}
	watcher, err := config.NewWatcher(path)
	if err != nil {
		log.Debugw("Config watcher unavailable", "path", path, "error", err)
		return nil
	}
	watcher.OnReload(gw.ApplyConfig)
	watcher.Start()
	return watcher
}
