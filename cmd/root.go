package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/reqpipe/reqpipe/pipeline"
)

var (
	// CLI flags shared by the subcommands
	logLevel   string // Log verbosity level
	configPath string // Path to the topology YAML (empty = built-in defaults)
	nodeID     string // Node id to run (node subcommand)
	monitorSec int    // Seconds between stats dumps (run subcommand, 0 = off)
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "reqpipe",
	Short: "Networked three-tier request-processing pipeline",
}

// runCmd starts the whole topology in one process, drives the client traffic
// loops to completion, and shuts everything down.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline topology and both clients",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		cfg := mustLoadConfig()

		system, err := pipeline.NewSystem(cfg)
		if err != nil {
			logrus.Fatalf("build topology: %v", err)
		}
		if err := system.Start(); err != nil {
			logrus.Fatalf("start topology: %v", err)
		}

		stopMonitor := make(chan struct{})
		if monitorSec > 0 {
			go monitorLoop(system, time.Duration(monitorSec)*time.Second, stopMonitor)
		}

		summaries := system.RunClients()
		close(stopMonitor)
		system.LogStats()
		system.Stop()

		for _, s := range summaries {
			logrus.Infof("%s", s)
		}
	},
}

// nodeCmd runs a single node role until interrupted, for multi-process
// deployments where the orchestration layer starts each role separately.
var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run a single pipeline node by id (e.g. Q1, P11, D, Q21, P21, K1)",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		if nodeID == "" {
			logrus.Fatal("--id is required")
		}
		cfg := mustLoadConfig()

		system, err := pipeline.NewSystem(cfg)
		if err != nil {
			logrus.Fatalf("build topology: %v", err)
		}
		if err := runSingleNode(system, nodeID); err != nil {
			logrus.Fatalf("run node %s: %v", nodeID, err)
		}
	},
}

// runSingleNode starts just the named role from an assembled (but unstarted)
// system, then blocks until SIGINT/SIGTERM. Clients run their traffic loop to
// completion instead of waiting for a signal.
func runSingleNode(system *pipeline.System, id string) error {
	type stoppable interface{ Stop(time.Duration) }

	var start func() error
	var stop stoppable

	switch id {
	case "Q1":
		start, stop = system.Entry.Start, system.Entry
	case "D":
		start, stop = system.Fanout.Start, system.Fanout
	default:
		for _, w := range system.Workers {
			if w.ID() == id {
				start, stop = w.Start, w
			}
		}
		for i, relayID := range pipeline.DefaultRelays {
			if relayID == id {
				r := system.Relays[i]
				start, stop = r.Start, r
			}
		}
		for _, t := range system.Terminals {
			if t.ID() == id {
				start, stop = t.Start, t
			}
		}
		for _, c := range system.Clients {
			if c.ID() == id {
				if err := c.Start(); err != nil {
					return err
				}
				logrus.Infof("%s", c.Run())
				c.Stop(pipeline.StopGrace)
				return nil
			}
		}
	}
	if start == nil {
		logrus.Fatalf("unknown node id %q", id)
	}
	if err := start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logrus.Infof("shutting down %s", id)
	stop.Stop(pipeline.StopGrace)
	return nil
}

func monitorLoop(system *pipeline.System, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			system.LogStats()
		}
	}
}

func setupLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to topology YAML (empty = built-in defaults)")

	runCmd.Flags().IntVar(&monitorSec, "monitor-interval", 10, "Seconds between stats dumps (0 = off)")
	nodeCmd.Flags().StringVar(&nodeID, "id", "", "Node id to run")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(nodeCmd)
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
