// Package cli implements the mnemo CLI commands.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Jackela/Novel-Engine-sub016/internal/memory"
	"github.com/Jackela/Novel-Engine-sub016/internal/store"
)

var (
	dbPath  string
	verbose bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "Layered memory for narrative agents",
	Long:  "Layered agent memory: working, episodic, semantic and emotional layers behind one store/recall/consolidate surface. SQLite-backed, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $MNEMO_DB or ~/.mnemo/memory.db)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	if env := os.Getenv("MNEMO_DB"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mnemo", "memory.db")
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// openSystem opens the store and builds the layered system over it. The
// caller closes the returned store.
func openSystem() (*memory.System, *store.SQLiteStore, error) {
	st, err := store.NewSQLiteStore(getDBPath())
	if err != nil {
		return nil, nil, err
	}
	sys, err := memory.NewSystem(st, memory.DefaultConfig(), newLogger())
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return sys, st, nil
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
