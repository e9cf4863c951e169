package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/lwp001/mixlab/engine"
	"github.com/lwp001/mixlab/logger"
	"github.com/lwp001/mixlab/server"
	"github.com/lwp001/mixlab/sym"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine and websocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Cleanup()

		log := logger.Logger

		engineCfg := engine.Config{
			Workers:          cfg.Engine.Workers,
			AutosaveInterval: time.Duration(cfg.Engine.AutosaveSeconds) * time.Second,
		}

		var store *engine.WorkspaceStore
		if cfg.Engine.SavePath != "" {
			store, err = engine.OpenWorkspaceStore(cfg.Engine.SavePath)
			if err != nil {
				return err
			}
			defer store.Close()

			saved, err := store.Load()
			if err != nil {
				log.Warnw(sym.DB+" Failed to load saved workspace, starting empty", "error", err)
			} else if len(saved.Modules) > 0 {
				engineCfg.Saved = saved
			}
			engineCfg.Store = store
		}

		eng := engine.Start(engineCfg, log)
		defer eng.Close()

		srv := server.New(eng, server.Config{
			Port:           cfg.Server.Port,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			CommandRate:    rate.Limit(cfg.Server.CommandRate),
			CommandBurst:   cfg.Server.CommandBurst,
		}, log)

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-stop:
			log.Infow(sym.Engine+" Shutting down", "signal", sig.String())
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}
