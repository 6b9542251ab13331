// Package cli implements the engram command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"engram/internal/config"
	"engram/internal/memory"
	"engram/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "engram",
	Short: "Long-term associative memory for AI agents",
	Long:  "Engram stores durable facts, preferences, and instructions from agent sessions, retrieves the relevant subset per query, and consolidates the corpus over time.",
}

// projectDir is the working directory the engine is scoped to,
// settable via --project on every command.
var projectDir string

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectDir, "project", "", "Project working directory (default: current directory)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(rememberCmd)
	rootCmd.AddCommand(recallCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(groupsCmd)
}

// loadConfig reads the config file, honoring ENGRAM_CONFIG.
func loadConfig() (config.Config, error) {
	path := os.Getenv("ENGRAM_CONFIG")
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return config.Default(), err
		}
	}
	return config.Load(path)
}

// openEngine opens the database and returns an initialized engine for
// the selected project directory.
func openEngine(cfg config.Config) (*store.DB, *memory.Engine, error) {
	dbPath := os.Getenv("ENGRAM_DB")
	if dbPath == "" {
		dbPath = cfg.Database.Path
	}
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, nil, err
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	dir := projectDir
	if dir == "" {
		dir, err = os.Getwd()
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("get working dir: %w", err)
		}
	}

	eng := memory.New(db, db, db, db, dir)
	if err := eng.Init(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("init engine: %w", err)
	}
	return db, eng, nil
}
