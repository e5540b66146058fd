package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/fsmirror/internal/config"
	"github.com/cuemby/fsmirror/internal/engine"
	"github.com/cuemby/fsmirror/pkg/log"
	"github.com/cuemby/fsmirror/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath string
	manager    *engine.Manager
	cfg        config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fsmirrord",
	Short: "fsmirrord - filesystem snapshot-mirror policy engine",
	Long: `fsmirrord decides which mirror-worker instance is responsible for
synchronizing each tracked directory across a mirrored filesystem, and
drives the acquire/release handshake with workers as they join and leave.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fsmirrord version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/fsmirrord/config.yaml", "Path to the fsmirrord configuration file")

	cobra.OnInitialize(initEngine)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(enableCmd)
	rootCmd.AddCommand(disableCmd)
	rootCmd.AddCommand(peerCmd)
	rootCmd.AddCommand(directoryCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(distributionCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mirroring engine for every filesystem in the config file",
	Long: `Enable mirroring on every filesystem listed in the configuration
file's filesystems list and keep the engine running until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		collector := metrics.NewCollector(manager)
		collector.Start()
		defer collector.Stop()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "metrics server failed: %v\n", err)
			}
		}()

		fmt.Println("✓ fsmirrord engine running")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		_ = srv.Close()
		manager.Shutdown()
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func initEngine() {
	loaded, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", configPath, err)
		os.Exit(1)
	}
	cfg = loaded

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})

	manager = engine.NewManager(engine.Options{
		DataDir:          cfg.DataDir,
		LocalClusterID:   cfg.LocalClusterID,
		ThrottleInterval: cfg.ThrottleInterval,
		BlocklistCommand: cfg.BlocklistCommand,
	})

	for _, fs := range cfg.Filesystems {
		if err := manager.EnableMirror(fs); err != nil {
			fmt.Fprintf(os.Stderr, "failed to enable mirroring on %s: %v\n", fs, err)
			os.Exit(1)
		}
	}
}

var enableCmd = &cobra.Command{
	Use:   "enable <fs>",
	Short: "Enable mirroring on a filesystem",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return manager.EnableMirror(args[0])
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable <fs>",
	Short: "Disable mirroring on a filesystem",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return manager.DisableMirror(args[0])
	},
}

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Manage mirror peers",
}

var peerAddCmd = &cobra.Command{
	Use:   "add <fs> <remote-spec> <remote-fs-name> <remote-cluster-id>",
	Short: "Add a mirror peer",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		peer, err := manager.PeerAdd(args[0], args[1], args[2], args[3])
		if err != nil {
			return err
		}
		fmt.Printf("peer %s added\n", peer.UUID)
		return nil
	},
}

var peerRemoveCmd = &cobra.Command{
	Use:   "remove <fs> <peer-uuid>",
	Short: "Remove a mirror peer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return manager.PeerRemove(args[0], args[1])
	},
}

func init() {
	peerCmd.AddCommand(peerAddCmd)
	peerCmd.AddCommand(peerRemoveCmd)
}

var directoryCmd = &cobra.Command{
	Use:   "directory",
	Short: "Manage tracked directories",
}

var directoryAddCmd = &cobra.Command{
	Use:   "add <fs> <path>",
	Short: "Start mirroring a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return manager.AddDir(args[0], args[1])
	},
}

var directoryRemoveCmd = &cobra.Command{
	Use:   "remove <fs> <path>",
	Short: "Stop mirroring a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return manager.RemoveDir(args[0], args[1])
	},
}

func init() {
	directoryCmd.AddCommand(directoryAddCmd)
	directoryCmd.AddCommand(directoryRemoveCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status <fs> <path>",
	Short: "Show a tracked directory's assignment status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := manager.Status(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(string(body))
		return nil
	},
}

var distributionCmd = &cobra.Command{
	Use:   "distribution <fs>",
	Short: "Show directory-to-instance distribution for a filesystem",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := manager.ShowDistribution(args[0])
		if err != nil {
			return err
		}
		fmt.Println(string(body))
		return nil
	},
}
