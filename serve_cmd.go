package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/planthealth/swcache/internal/config"
	"github.com/planthealth/swcache/internal/host"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var watchConfig bool

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Install the worker and serve requests cache-first",
	Long:    paragraph(fmt.Sprintf("\n%s the worker, then answer every request from the cache, falling back to the origin on a miss.", keyword("Install"))),
	Example: paragraph("swcache serve\nswcache serve --listen :8080 --origin https://plants.example --watch"),
	Args:    cobra.NoArgs,
	RunE:    runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "address to listen on")
	serveCmd.Flags().BoolVarP(&watchConfig, "watch", "w", false, "re-install the worker when the config file changes")
	_ = viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	watcher, err := configWatcher(a, watchConfig, viper.ConfigFileUsed())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := a.newWorker(cfg)
	if err != nil {
		return err
	}
	// Without an active worker every request goes to the origin, so a failed
	// install is not fatal.
	if err := a.runtime.Register(ctx, w); err != nil {
		a.logger.Error("Worker install failed, serving from network", "error", err)
	}

	srv := host.NewServer(a.runtime, a.network.Origin(), a.storage, a.logger.WithPrefix("server"))
	errc := make(chan error, 2)
	go func() { errc <- srv.Start(cfg.Listen) }()

	if watcher != nil {
		go func() {
			if err := watcher.Run(ctx); err != nil {
				errc <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
	}

	a.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// configWatcher returns the watcher for --watch, or nil when watching is off.
func configWatcher(a *app, watch bool, path string) (*host.Watcher, error) {
	if !watch {
		return nil, nil
	}
	if path == "" {
		return nil, errors.New("--watch requires a config file")
	}
	return &host.Watcher{
		Path:   path,
		Reload: func(ctx context.Context) error { return reload(ctx, a, path) },
		Logger: a.logger.WithPrefix("watch"),
	}, nil
}

// reload re-reads the config file and installs a worker built from it.
func reload(ctx context.Context, a *app, path string) error {
	v := viper.New()
	config.SetDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("unable to read config file: %w", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	if cfg.Origin != a.cfg.Origin || cfg.Storage != a.cfg.Storage {
		a.logger.Warn("Origin and storage changes apply after a restart")
	}

	w, err := a.newWorker(cfg)
	if err != nil {
		return err
	}
	a.logger.Info("Config changed, updating worker", "cache", cfg.CacheName, "assets", len(cfg.Assets))
	return a.runtime.Update(ctx, w)
}
