package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"engram/internal/memory"
	"engram/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engram HTTP sidecar",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			log.Printf("config: %v (using defaults)", err)
		}

		db, eng, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		srv := &http.Server{
			Addr:    cfg.ListenAddr(),
			Handler: server.New(db, eng, VersionString()),
		}

		// Periodic consolidation: check hourly whether a run is due.
		stopTicker := make(chan struct{})
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					result, err := eng.MaybeRunPeriodicConsolidation(context.Background(), memory.PeriodicOptions{
						Enabled:         cfg.Consolidation.Enabled,
						IntervalMinutes: cfg.Consolidation.IntervalMinutes,
						Policy:          &memory.ConsolidationPolicy{Strategy: cfg.Consolidation.Strategy},
					})
					if err != nil {
						log.Printf("periodic consolidation: %v", err)
					} else if result != nil {
						log.Printf("consolidation %s: %d merged, %d decayed, %d -> %d atoms",
							result.RunID, result.MergedCount, result.DecayedCount,
							result.BeforeCount, result.AfterCount)
					}
				case <-stopTicker:
					return
				}
			}
		}()

		errCh := make(chan error, 1)
		go func() {
			log.Printf("engram listening on %s (db: %s, project: %s)", srv.Addr, db.Path, eng.ProjectID())
			errCh <- srv.ListenAndServe()
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			close(stopTicker)
			return fmt.Errorf("server: %w", err)
		case sig := <-sigCh:
			log.Printf("received %s, shutting down", sig)
			close(stopTicker)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		}
	},
}
