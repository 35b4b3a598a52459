// Package export writes statistics snapshots to disk as indented JSON,
// one timestamped file per snapshot.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"PacketScope/internal/stats"
)

// Write serializes snap into dir, creating the directory if needed.
// It returns the path of the written file.
func Write(snap stats.Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	name := fmt.Sprintf("snapshot_%s.json", time.Now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(dir, name)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return path, nil
}
