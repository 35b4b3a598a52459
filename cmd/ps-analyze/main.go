// ps-analyze replays a recorded pcap file through the decode and stats
// pipeline and prints the resulting summary, optionally exporting the
// full snapshot as JSON.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"PacketScope/internal/capture"
	"PacketScope/internal/export"
	"PacketScope/internal/filter"
	"PacketScope/internal/pump"
	"PacketScope/internal/stats"
)

var (
	filterText  string
	bucketWidth time.Duration
	retention   int
	exportDir   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ps-analyze <file.pcap>",
		Short: "Replay a pcap file and summarize its IPv4 traffic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0])
		},
		SilenceUsage: true,
	}
	rootCmd.Flags().StringVarP(&filterText, "filter", "F", "", `filter expression, e.g. "protocol = tcp and dst-port = 443"`)
	rootCmd.Flags().DurationVarP(&bucketWidth, "bucket-width", "w", time.Second, "width of one throughput bucket")
	rootCmd.Flags().IntVarP(&retention, "retention", "r", 3600, "number of buckets to retain")
	rootCmd.Flags().StringVarP(&exportDir, "export", "o", "", "directory to write the full snapshot JSON into")

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("ps-analyze exited with error")
	}
}

func run(path string) error {
	agg := stats.New(stats.Config{BucketWidth: bucketWidth, Retention: retention})
	if filterText != "" {
		expr, err := filter.Parse(filterText)
		if err != nil {
			return fmt.Errorf("bad filter: %w", err)
		}
		agg.SetFilter(expr)
	}

	src, err := capture.OpenFile(path)
	if err != nil {
		return err
	}
	defer src.Close()

	// End of file is the normal way a replay finishes.
	if err := pump.New(src, agg).Run(context.Background()); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	snap := agg.Snapshot()
	printSummary(snap)

	if exportDir != "" {
		path, err := export.Write(snap, exportDir)
		if err != nil {
			return err
		}
		log.WithField("path", path).Info("snapshot exported")
	}
	return nil
}

func printSummary(snap stats.Snapshot) {
	var packets, bytes uint64
	for _, b := range snap.Buckets {
		packets += b.Packets
		bytes += b.Bytes
	}
	fmt.Printf("packets: %d  bytes: %d  filtered out: %d  too late: %d\n",
		packets, bytes, snap.FilteredOut, snap.TooLate)

	if len(snap.DecodeErrors) > 0 {
		fmt.Println("decode errors:")
		for kind, n := range snap.DecodeErrors {
			fmt.Printf("  %-22s %d\n", kind, n)
		}
	}

	printRows("by protocol", snap.ByProtocol, len(snap.ByProtocol))
	printRows("top sources", snap.BySource, 10)
	printRows("top destinations", snap.ByDestination, 10)
}

func printRows(title string, rows []stats.SummaryRow, limit int) {
	if len(rows) == 0 {
		return
	}
	if limit > len(rows) {
		limit = len(rows)
	}
	fmt.Printf("%s:\n", title)
	for _, row := range rows[:limit] {
		fmt.Printf("  %-40s %10d pkts %14d bytes\n", row.Key, row.Packets, row.Bytes)
	}
}
