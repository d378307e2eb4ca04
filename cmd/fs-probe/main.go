package main

import (
	"FlowSentry/internal/config"
	"FlowSentry/internal/engine/ingest"
	"FlowSentry/internal/logger"
	"FlowSentry/internal/model"
	"FlowSentry/internal/probe"
	"FlowSentry/pkg/pcap"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	iface    string
	natsURL  string
	subject  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "fs-probe",
	Short: "Capture TCP datagrams and publish them to NATS",
	Long: `fs-probe captures TCP/IPv4 traffic on one interface and publishes every
decoded datagram to a NATS subject, for an fs-engine started with --source nats.`,
	SilenceUsage: true,
	RunE:         runProbe,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "configs/config.yaml", "config file")
	rootCmd.Flags().StringVarP(&iface, "iface", "i", "", "interface to capture on")
	rootCmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL")
	rootCmd.Flags().StringVar(&subject, "subject", "", "NATS subject to publish to")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if _, err := os.Stat(cfgFile); err == nil || cmd.Flags().Changed("config") {
		loaded, err := config.LoadConfig(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if iface != "" {
		cfg.Capture.Interface = iface
	}
	if natsURL != "" {
		cfg.Probe.NATSURL = natsURL
	}
	if subject != "" {
		cfg.Probe.Subject = subject
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if cfg.Capture.Interface == "" {
		return nil, fmt.Errorf("--iface is required")
	}
	return cfg, nil
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.Log.Level)
	logger.Info("Starting fs-probe", "interface", cfg.Capture.Interface)

	pub, err := probe.NewPublisher(cfg.Probe)
	if err != nil {
		return err
	}
	defer pub.Close()

	src, err := pcap.OpenLive(cfg.Capture.Interface, cfg.Capture.SnapshotLen, cfg.Capture.Promiscuous, cfg.Capture.BPF)
	if err != nil {
		return err
	}
	defer src.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The probe's own publishes would otherwise be captured and republished.
	exclude := make(map[uint16]struct{})
	for _, p := range ingest.ExcludedPorts(cfg) {
		exclude[p] = struct{}{}
	}

	out := make(chan *model.Datagram, 1024)
	errc := make(chan error, 1)
	go func() {
		errc <- src.ReadDatagrams(ctx, out)
		close(out)
	}()

	logger.Info("Capture started successfully. Publishing datagrams to NATS...", "excluded_ports", ingest.ExcludedPorts(cfg))
	published := 0
	for d := range out {
		_, fromOwn := exclude[d.SrcPort]
		_, toOwn := exclude[d.DstPort]
		if fromOwn || toOwn {
			continue
		}
		if err := pub.Publish(d); err != nil {
			logger.Warn("Failed to publish datagram", "error", err)
			continue
		}
		published++
		if published%1000 == 0 {
			logger.Info("Datagrams published", "count", published)
		}
	}

	if err := <-errc; err != nil {
		logger.Error("Capture failed", "error", err)
		return err
	}
	logger.Info("Shutdown signal received, cleaning up...", "published", published)
	return nil
}
