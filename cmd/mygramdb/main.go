package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/libraz/mygram-db/pkg/config"
	"github.com/libraz/mygram-db/pkg/log"
	"github.com/libraz/mygram-db/pkg/metrics"
	"github.com/libraz/mygram-db/pkg/server"
	"github.com/libraz/mygram-db/pkg/snapshot"
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
	Use:   "mygramdb",
	Short: "mygram-db - MySQL-replicated n-gram full-text search engine",
	Long: `mygram-db mirrors configured MySQL tables into in-memory n-gram
indexes and serves low-latency substring and CJK searches over a
memcached-style text protocol and a JSON HTTP API.

Data arrives through an initial bulk snapshot and a streaming binlog
follower; periodic dumps provide fast cold starts.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"mygram-db version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "config.yml", "Path to configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dumpCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if jsonOut, _ := cmd.Flags().GetBool("log-json"); jsonOut {
		cfg.Logging.JSON = true
	}
	log.Init(log.Config{
		Level:      log.Level(cfg.Logging.Level),
		JSONOutput: cfg.Logging.JSON,
	})
	return cfg, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the search engine server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		server.Version = Version
		metrics.Register()

		engine := server.NewEngine(cfg)
		engine.Start()

		// Cold start with auto_initial_snapshot set: restore the default dump
		// when present, otherwise run the initial snapshot. Without the
		// setting nothing is loaded at startup.
		if cfg.Replication.AutoInitialSnapshot {
			if _, err := engine.DumpLoad(""); err != nil {
				lg := log.WithComponent("main")
				lg.Info().Err(err).Msg("no dump to restore, running initial snapshot")
				if err := engine.SyncAllBlocking(cmd.Context()); err != nil {
					return fmt.Errorf("initial snapshot: %w", err)
				}
			}
		}

		if cfg.Replication.Enable {
			if err := engine.ReplicationStart(); err != nil {
				lg := log.WithComponent("main")
				lg.Warn().Err(err).Msg("replication not started")
			}
		}

		tcpSrv, err := server.NewTCPServer(cfg, engine)
		if err != nil {
			return err
		}
		if err := tcpSrv.Start(); err != nil {
			return err
		}

		var httpSrv *server.HTTPServer
		if cfg.API.HTTP.Enable {
			httpSrv, err = server.NewHTTPServer(cfg, engine)
			if err != nil {
				return err
			}
			if err := httpSrv.Start(); err != nil {
				return err
			}
		}

		autoDumper := snapshot.NewAutoDumper(nil,
			time.Duration(cfg.Dump.IntervalSec)*time.Second,
			engine.AutoDumpSave,
		)
		autoDumper.Start()

		log.Info("mygram-db started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info("shutting down")
		autoDumper.Stop()
		tcpSrv.Stop()
		if httpSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = httpSrv.Stop(ctx)
		}
		engine.Shutdown()
		return nil
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Offline dump maintenance",
}

var dumpSaveCmd = &cobra.Command{
	Use:   "save [name]",
	Short: "Load the source tables and write a dump without serving",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		engine := server.NewEngine(cfg)
		defer engine.Shutdown()

		if err := engine.SyncAllBlocking(cmd.Context()); err != nil {
			return err
		}
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		path, err := engine.DumpSave(name)
		if err != nil {
			return err
		}
		fmt.Println("saved", path)
		return nil
	},
}

var dumpInspectCmd = &cobra.Command{
	Use:   "load [name]",
	Short: "Verify a dump loads cleanly",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		engine := server.NewEngine(cfg)
		defer engine.Shutdown()

		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		path, err := engine.DumpLoad(name)
		if err != nil {
			return err
		}
		fmt.Println("loaded", path)
		for _, t := range engine.Info().Tables {
			fmt.Printf("  %s: %d documents, %d terms\n", t.Name, t.Documents, t.Terms)
		}
		return nil
	},
}

func init() {
	dumpCmd.AddCommand(dumpSaveCmd)
	dumpCmd.AddCommand(dumpInspectCmd)
}
