package snapshot

import (
	"FlowSentry/internal/model"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TimestampLayout names snapshot directories.
const TimestampLayout = "2006-01-02_15-04-05"

const (
	flowsFile   = "flows.dat"
	summaryFile = "summary.json"
)

// SummaryData holds the metadata written next to each gob snapshot.
type SummaryData struct {
	TotalFlows   int    `json:"total_flows"`
	TotalBytes   uint64 `json:"total_bytes"`
	TotalPackets uint64 `json:"total_packets"`
	SynFlows     int    `json:"syn_flows"`
	Timestamp    string `json:"timestamp"`
}

// Summarize computes the totals of a snapshot.
func Summarize(s model.TableSnapshot) SummaryData {
	sum := SummaryData{
		TotalFlows: len(s.Flows),
		Timestamp:  s.Taken.UTC().Format(time.RFC3339),
	}
	for _, f := range s.Flows {
		sum.TotalBytes += f.AToZBytes + f.ZToABytes
		sum.TotalPackets += f.AToZPackets + f.ZToAPackets
		if f.AToZSynCounter > 0 || f.ZToASynCounter > 0 {
			sum.SynFlows++
		}
	}
	return sum
}

// GobWriter writes each snapshot to its own timestamped directory in gob format.
// It implements the model.Writer interface.
type GobWriter struct {
	rootPath string
	interval time.Duration
}

// NewGobWriter creates a new gob writer rooted at rootPath.
func NewGobWriter(rootPath string, interval time.Duration) *GobWriter {
	return &GobWriter{rootPath: rootPath, interval: interval}
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *GobWriter) GetInterval() time.Duration {
	return w.interval
}

func (w *GobWriter) Name() string {
	return "gob"
}

// Write stores the flows as flows.dat and their totals as summary.json.
// Empty snapshots are skipped.
func (w *GobWriter) Write(ctx context.Context, s model.TableSnapshot) error {
	if len(s.Flows) == 0 {
		return nil
	}

	dir := filepath.Join(w.rootPath, s.Taken.Format(TimestampLayout))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	flowsPath := filepath.Join(dir, flowsFile)
	file, err := os.Create(flowsPath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file '%s': %w", flowsPath, err)
	}
	defer file.Close()
	if err := gob.NewEncoder(file).Encode(s.Flows); err != nil {
		return fmt.Errorf("failed to encode flows to gob for file '%s': %w", flowsPath, err)
	}

	summary, err := os.Create(filepath.Join(dir, summaryFile))
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer summary.Close()

	jsonEncoder := json.NewEncoder(summary)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(Summarize(s)); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}
	return nil
}

// ReadGob loads the flows of one snapshot directory.
func ReadGob(dir string) ([]model.ConnectionState, error) {
	file, err := os.Open(filepath.Join(dir, flowsFile))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var flows []model.ConnectionState
	if err := gob.NewDecoder(file).Decode(&flows); err != nil {
		return nil, fmt.Errorf("failed to decode gob snapshot: %w", err)
	}
	return flows, nil
}
