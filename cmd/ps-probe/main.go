// ps-probe is the capture-side process: it opens a local interface and
// publishes raw IPv4 frames to NATS, where a ps-engine running elsewhere
// picks them up.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"PacketScope/internal/capture"
	"PacketScope/internal/config"
	"PacketScope/internal/probe"
	"PacketScope/internal/pump"
)

var (
	configPath string
	iface      string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ps-probe",
		Short: "Capture IPv4 frames and publish them to NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
		SilenceUsage: true,
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the YAML configuration file")
	rootCmd.Flags().StringVarP(&iface, "iface", "i", "", "interface to capture from, overrides the config")

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("ps-probe exited with error")
	}
}

func run() error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	level, err := log.ParseLevel(cfg.Log.Level)
	if err == nil {
		log.SetLevel(level)
	}

	device := cfg.Capture.Interface
	if iface != "" {
		device = iface
	}
	if device == "" {
		return errors.New("no capture interface configured (set capture.interface or pass --iface)")
	}

	src, err := capture.OpenLive(device, cfg.Capture.SnapshotLen, cfg.Capture.Promiscuous, cfg.Capture.ReadTimeoutDuration())
	if err != nil {
		return err
	}
	defer src.Close()

	pub, err := probe.NewPublisher(cfg.NATS.URL, cfg.NATS.Subject)
	if err != nil {
		return err
	}
	defer pub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithField("subject", cfg.NATS.Subject).Info("publishing captured frames")

	var published uint64
	for {
		frame, err := src.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("shutdown signal received")
				return nil
			}
			if pump.IsTransient(err) {
				log.WithError(err).Debug("transient capture error, continuing")
				continue
			}
			return err
		}
		if err := pub.Publish(frame); err != nil {
			log.WithError(err).Warn("failed to publish frame")
			continue
		}
		published++
		if published%1000 == 0 {
			log.WithField("published", published).Debug("frames published")
		}
	}
}
