// ps-engine is the analysis process: it pulls IPv4 frames from a local
// capture handle, a recorded pcap file, or a remote probe over NATS,
// runs them through the decode/filter/stats pipeline, and serves the
// results over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"PacketScope/internal/api"
	"PacketScope/internal/capture"
	"PacketScope/internal/config"
	"PacketScope/internal/filter"
	"PacketScope/internal/packetlist"
	"PacketScope/internal/probe"
	"PacketScope/internal/pump"
	"PacketScope/internal/stats"
)

var (
	configPath string
	sourceKind string
	pcapFile   string
	iface      string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ps-engine",
		Short: "Capture, decode, and aggregate IPv4 traffic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
		SilenceUsage: true,
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the YAML configuration file")
	rootCmd.Flags().StringVarP(&sourceKind, "source", "s", "live", "frame source: live, file, or nats")
	rootCmd.Flags().StringVarP(&pcapFile, "file", "f", "", "pcap file to replay (source=file)")
	rootCmd.Flags().StringVarP(&iface, "iface", "i", "", "interface to capture from, overrides the config (source=live)")

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("ps-engine exited with error")
	}
}

func run() error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("bad log level %q: %w", cfg.Log.Level, err)
	}
	log.SetLevel(level)

	agg := stats.New(stats.Config{
		BucketWidth: cfg.Stats.BucketWidthDuration(),
		Retention:   cfg.Stats.Retention,
	})
	if err := installStartupFilter(cfg.Stats.Filter, agg.SetFilter); err != nil {
		return fmt.Errorf("stats filter: %w", err)
	}

	list := packetlist.New(cfg.List.Capacity)
	if err := installStartupFilter(cfg.List.Filter, list.SetFilter); err != nil {
		return fmt.Errorf("list filter: %w", err)
	}

	src, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pmp := pump.New(src, agg, list)
	pumpDone := make(chan error, 1)
	go func() {
		pumpDone <- pmp.Run(ctx)
	}()

	srv := api.NewServer(agg, list, pmp)
	httpSrv := &http.Server{Addr: cfg.API.ListenAddr, Handler: srv.Router()}
	httpDone := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.API.ListenAddr).Info("HTTP API listening")
		httpDone <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-pumpDone:
		// A finished file replay keeps the API up so the results can
		// still be queried; a live source failing is fatal.
		if err != nil && sourceKind != "file" {
			shutdownHTTP(httpSrv)
			return err
		}
		if err != nil {
			log.WithError(err).Warn("frame source ended")
		} else {
			log.Info("frame source drained")
		}
		<-ctx.Done()
	case err := <-httpDone:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	shutdownHTTP(httpSrv)
	log.Info("shutdown complete")
	return nil
}

func installStartupFilter(text string, install func(filter.Expr)) error {
	if text == "" {
		return nil
	}
	expr, err := filter.Parse(text)
	if err != nil {
		return err
	}
	install(expr)
	log.WithField("filter", text).Info("startup filter installed")
	return nil
}

func openSource(cfg *config.Config) (pump.Source, error) {
	switch sourceKind {
	case "live":
		device := cfg.Capture.Interface
		if iface != "" {
			device = iface
		}
		if device == "" {
			return nil, errors.New("no capture interface configured (set capture.interface or pass --iface)")
		}
		return capture.OpenLive(device, cfg.Capture.SnapshotLen, cfg.Capture.Promiscuous, cfg.Capture.ReadTimeoutDuration())
	case "file":
		if pcapFile == "" {
			return nil, errors.New("--file is required with source=file")
		}
		return capture.OpenFile(pcapFile)
	case "nats":
		return probe.OpenStream(cfg.NATS.URL, cfg.NATS.Subject)
	default:
		return nil, fmt.Errorf("unknown source %q (want live, file, or nats)", sourceKind)
	}
}

func shutdownHTTP(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown")
	}
}
