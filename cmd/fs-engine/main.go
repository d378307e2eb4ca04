package main

import (
	"FlowSentry/internal/config"
	"FlowSentry/internal/engine/manager"
	"FlowSentry/internal/logger"
	"FlowSentry/internal/model"
	"FlowSentry/internal/probe"
	"FlowSentry/pkg/pcap"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	iface     string
	ipv4      string
	filter    string
	readFile  string
	source    string
	logLevel  string
	exitOnEOF bool
)

var rootCmd = &cobra.Command{
	Use:   "fs-engine",
	Short: "Track TCP flows of the local host",
	Long: `fs-engine captures TCP/IPv4 traffic, keeps per-flow byte, sequence and SYN
counters relative to the local host, and serves them over HTTP and gRPC.

Examples:
  fs-engine --iface eth0
  fs-engine --read-file capture.pcap --ipv4 10.0.0.5
  fs-engine --source nats --ipv4 10.0.0.5`,
	SilenceUsage: true,
	RunE:         runEngine,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "configs/config.yaml", "config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	rootCmd.Flags().StringVarP(&iface, "iface", "i", "", "interface to capture on")
	rootCmd.Flags().StringVar(&ipv4, "ipv4", "", "IPv4 address of the monitored host (default: first address of --iface)")
	rootCmd.Flags().StringVarP(&filter, "filter", "f", "", `only track datagrams whose "src:port->dst:port" contains this ("*" tracks all)`)
	rootCmd.Flags().StringVarP(&readFile, "read-file", "r", "", "read datagrams from a pcap file instead of capturing")
	rootCmd.Flags().StringVar(&source, "source", "", "datagram source: live, file or nats")
	rootCmd.Flags().BoolVar(&exitOnEOF, "exit-on-eof", false, "exit once a file source is exhausted instead of serving queries")
	rootCmd.AddCommand(interfacesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if _, err := os.Stat(cfgFile); err == nil || cmd.Flags().Changed("config") {
		loaded, err := config.LoadConfig(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		logger.Warn("Config file not found, using defaults", "path", cfgFile)
	}

	if iface != "" {
		cfg.Capture.Interface = iface
	}
	if ipv4 != "" {
		cfg.Capture.IPv4 = ipv4
	}
	if filter != "" {
		cfg.Capture.Filter = filter
	}
	if readFile != "" {
		cfg.Capture.ReadFile = readFile
		if source == "" {
			cfg.Capture.Source = "file"
		}
	}
	if source != "" {
		cfg.Capture.Source = source
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, cfg.Validate()
}

// localAddress returns the monitored host address, discovering it from the
// capture interface when not configured.
func localAddress(cfg *config.Config) (net.IP, error) {
	if cfg.Capture.IPv4 != "" {
		return net.ParseIP(cfg.Capture.IPv4).To4(), nil
	}
	if cfg.Capture.Interface == "" {
		return nil, fmt.Errorf("no local address: set --ipv4 or --iface")
	}
	return pcap.LocalIPv4(cfg.Capture.Interface)
}

func openSource(cfg *config.Config) (model.DatagramSource, error) {
	switch cfg.Capture.Source {
	case "file":
		return pcap.OpenFile(cfg.Capture.ReadFile)
	case "nats":
		return probe.NewSubscriber(cfg.Probe)
	default:
		if cfg.Capture.Interface == "" {
			return nil, fmt.Errorf("live capture requires --iface")
		}
		return pcap.OpenLive(cfg.Capture.Interface, cfg.Capture.SnapshotLen, cfg.Capture.Promiscuous, cfg.Capture.BPF)
	}
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetLevel(cfg.Log.Level)
	logger.Info("Starting fs-engine...", "source", cfg.Capture.Source, "backend", cfg.Table.Backend)

	local, err := localAddress(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := openSource(cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s source: %w", cfg.Capture.Source, err)
	}
	defer src.Close()

	m, err := manager.NewManager(ctx, cfg, local)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	m.Start()
	defer m.Stop()

	if err := m.Run(ctx, src); err != nil {
		logger.Error("Capture failed", "error", err)
		return err
	}

	if ctx.Err() == nil && cfg.Capture.Source == "file" && !exitOnEOF {
		logger.Info("Capture file exhausted, still serving queries until interrupted", "processed", m.Ingester().Count())
		<-ctx.Done()
	}
	logger.Info("Shutdown signal received, stopping engine...")
	return nil
}
