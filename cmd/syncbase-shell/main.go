package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/cuemby/syncbase/pkg/config"
	_ "github.com/cuemby/syncbase/pkg/ext"
	"github.com/cuemby/syncbase/pkg/log"
	"github.com/cuemby/syncbase/pkg/metrics"
	"github.com/cuemby/syncbase/pkg/storage"
	"github.com/cuemby/syncbase/pkg/syncengine"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "syncbase-shell",
	Short: "syncbase-shell - debug shell for a syncbase-managed SQLite database",
	Long: `syncbase-shell opens a syncbase SQLite database and runs one-off
operations against it: inspecting sync status, driving the control surface
by hand, or clearing local state.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"syncbase-shell version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", ".", "Directory holding the syncbase SQLite database")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(repairCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func openAdapter(cmd *cobra.Command) (*storage.SQLiteAdapter, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	cfg := config.Default(dataDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return storage.OpenSQLiteAdapter(cfg.DataDir)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current sync engine diagnostics",
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")

		adapter, err := openAdapter(cmd)
		if err != nil {
			return err
		}
		defer adapter.Close()

		engine := syncengine.New(adapter)
		status := engine.Status()
		fmt.Printf("connected=%v connecting=%v\n", status.Connected, status.Connecting)

		if verbose {
			diag := engine.Diagnostics()
			fmt.Printf("tracking=%v buckets=%d last_op_id=%d pending_sync=%v\n",
				diag.Tracking, diag.BucketCount, diag.LastOpID, diag.HasPendingSync)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("verbose", false, "Include bucket tracking diagnostics")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Open (creating if necessary) the database at --data-dir, seeding internal tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		adapter, err := openAdapter(cmd)
		if err != nil {
			return err
		}
		defer adapter.Close()
		log.Logger.Info().Str("data_dir", mustDataDir(cmd)).Msg("syncbase database ready")
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Wipe oplog, CRUD queue, buckets and untyped data, preserving client_id",
	RunE: func(cmd *cobra.Command, args []string) error {
		includeLocal, _ := cmd.Flags().GetBool("include-local")

		adapter, err := openAdapter(cmd)
		if err != nil {
			return err
		}
		defer adapter.Close()

		local := 0
		if includeLocal {
			local = 1
		}

		tx, err := adapter.Begin(cmd.Context())
		if err != nil {
			return err
		}
		var n int64
		if err := tx.QueryRowContext(cmd.Context(), `SELECT powersync_clear(?)`, local).Scan(&n); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		log.Logger.Info().Bool("include_local", includeLocal).Msg("cleared local sync state")
		return nil
	},
}

func init() {
	clearCmd.Flags().Bool("include-local", false, "Also wipe local-only data tables")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open the database and expose /metrics, /health, /ready, /live over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("metrics-addr")

		adapter, err := openAdapter(cmd)
		if err != nil {
			return err
		}
		defer adapter.Close()

		engine := syncengine.New(adapter)
		metrics.SetVersion(Version)
		metrics.RegisterComponent("storage", true, "ready")
		metrics.RegisterComponent("syncengine", true, "ready")

		collector := metrics.NewCollector(adapter, func() bool { return engine.Status().Connected })
		collector.Start()
		defer collector.Stop()

		http.Handle("/metrics", metrics.Handler())
		http.Handle("/health", metrics.HealthHandler())
		http.Handle("/ready", metrics.ReadyHandler())
		http.Handle("/live", metrics.LivenessHandler())

		log.Logger.Info().Str("addr", addr).Msg("serving metrics")
		return http.ListenAndServe(addr, nil)
	},
}

func init() {
	serveCmd.Flags().String("metrics-addr", ":9090", "Address to serve /metrics, /health, /ready, /live on")
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Mark ps_data__ rows with no backing oplog entry for cleanup on the next sync_local",
	RunE: func(cmd *cobra.Command, args []string) error {
		adapter, err := openAdapter(cmd)
		if err != nil {
			return err
		}
		defer adapter.Close()

		tx, err := adapter.Begin(cmd.Context())
		if err != nil {
			return err
		}
		n, err := storage.RepairDanglingDataRows(cmd.Context(), tx)
		if err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		log.Logger.Info().Int64("rows_marked", n).Msg("marked dangling data rows for cleanup")
		return nil
	},
}

func mustDataDir(cmd *cobra.Command) string {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	return dataDir
}
