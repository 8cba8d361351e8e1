package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldops/fieldsync/pkg/api"
	"github.com/fieldops/fieldsync/pkg/config"
	"github.com/fieldops/fieldsync/pkg/edge"
	"github.com/fieldops/fieldsync/pkg/log"
	"github.com/fieldops/fieldsync/pkg/syncer"
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
	Use:   "fieldsync",
	Short: "Fieldsync - offline-first sync agent for field operations",
	Long: `Fieldsync keeps field-operations data entry usable without network
connectivity. It queues mutations durably while offline, serves reads
from a reconciled merge of cached and pending data, and replays the
queue against the backend once connectivity returns.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Fieldsync version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("api-base", "", "Remote API base URL (overrides config)")

	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queueCmd)
}

// loadConfig resolves flags over the config file over defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if base, _ := cmd.Flags().GetString("api-base"); base != "" {
		cfg.APIBase = base
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	return cfg, nil
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the sync agent (local API, edge proxy, replay engine)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return fmt.Errorf("failed to create data dir: %w", err)
		}

		service, err := syncer.New(cfg)
		if err != nil {
			return err
		}
		service.Start()
		fmt.Println("✓ Sync service started")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		errCh := make(chan error, 2)

		// Edge proxy (optional)
		var edgeSrv *http.Server
		if cfg.EdgeListenAddr != "" {
			proxy, err := edge.NewProxy(service.Store(), cfg.APIBase, cfg.Edge, cfg.NetworkTimeout.Std())
			if err != nil {
				return err
			}
			if err := proxy.Activate(); err != nil {
				return err
			}
			proxy.Precache(ctx, cfg.Edge.Precache)
			go proxy.WatchConnectivity(ctx, service.Broker())

			edgeSrv = &http.Server{
				Addr:         cfg.EdgeListenAddr,
				Handler:      proxy,
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
			}
			ln, err := net.Listen("tcp", cfg.EdgeListenAddr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", cfg.EdgeListenAddr, err)
			}
			go func() {
				if err := edgeSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
					errCh <- fmt.Errorf("edge proxy error: %w", err)
				}
			}()
			fmt.Printf("✓ Edge proxy listening on %s\n", cfg.EdgeListenAddr)
		}

		// Local API for the UI
		apiServer := api.NewServer(service)
		go func() {
			if err := apiServer.Start(cfg.ListenAddr); err != nil {
				errCh <- fmt.Errorf("API server error: %w", err)
			}
		}()
		fmt.Printf("✓ Local API listening on %s\n", cfg.ListenAddr)

		fmt.Println()
		fmt.Println("Agent is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		cancel()
		apiServer.Stop()
		if edgeSrv != nil {
			_ = edgeSrv.Close()
		}
		if err := service.Close(); err != nil {
			return fmt.Errorf("failed to shutdown: %w", err)
		}
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay the pending mutation queue once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		service, err := syncer.New(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = service.Close() }()
		service.Start()

		if !service.Monitor().ForceCheck(cmd.Context()) {
			return fmt.Errorf("remote API is unreachable")
		}
		if err := service.TriggerReplay(cmd.Context()); err != nil {
			return err
		}

		pending, err := service.Pending()
		if err != nil {
			return err
		}
		fmt.Printf("✓ Replay complete, %d mutations still pending\n", len(pending))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity and queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		service, err := syncer.New(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = service.Close() }()

		online := service.Monitor().ForceCheck(cmd.Context())
		pending, _ := service.Pending()
		synced, _ := service.Synced()
		dead, _ := service.Dead()

		fmt.Printf("Remote API:  %s\n", cfg.APIBase)
		if online {
			fmt.Println("Status:      online")
		} else {
			fmt.Println("Status:      offline")
		}
		fmt.Printf("Pending:     %d\n", len(pending))
		fmt.Printf("Synced:      %d\n", len(synced))
		fmt.Printf("Quarantined: %d\n", len(dead))
		return nil
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the mutation queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending mutations in replay order",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		service, err := syncer.New(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = service.Close() }()

		pending, err := service.Pending()
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("Queue is empty")
			return nil
		}
		for _, m := range pending {
			fmt.Printf("%-6d %-28s attempts=%-3d created=%s\n",
				m.ID, m.Kind, m.Attempts, m.CreatedAt.Format(time.RFC3339))
			if m.LastError != "" {
				fmt.Printf("       last error: %s\n", m.LastError)
			}
		}
		return nil
	},
}

var queueDeadCmd = &cobra.Command{
	Use:   "dead",
	Short: "List quarantined mutations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		service, err := syncer.New(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = service.Close() }()

		dead, err := service.Dead()
		if err != nil {
			return err
		}
		if len(dead) == 0 {
			fmt.Println("No quarantined mutations")
			return nil
		}
		for _, m := range dead {
			fmt.Printf("%-6d %-28s dead=%s\n", m.ID, m.Kind, m.DeadAt.Format(time.RFC3339))
			fmt.Printf("       reason: %s\n", m.Reason)
		}
		return nil
	},
}

var queueRequeueCmd = &cobra.Command{
	Use:   "requeue [id]",
	Short: "Move a quarantined mutation back to the pending queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		service, err := syncer.New(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = service.Close() }()

		var id uint64
		if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
			return fmt.Errorf("invalid id: %s", args[0])
		}
		newID, err := service.Requeue(id)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Requeued as mutation %d\n", newID)
		return nil
	},
}

func init() {
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueDeadCmd)
	queueCmd.AddCommand(queueRequeueCmd)
}
