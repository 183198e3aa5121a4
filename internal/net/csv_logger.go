package net

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// MetricsLogger logs per-epoch training metrics to a CSV file. Every logger
// carries a run ID so rows from resumed or repeated runs stay separable in a
// single appended file.
type MetricsLogger struct {
	Filename string
	RunID    string

	file   *os.File
	writer *csv.Writer
	start  time.Time
}

// NewMetricsLogger opens the CSV file for logging. When append is false the
// file is truncated; a header row is written whenever the file is empty.
func NewMetricsLogger(filename string, append bool) (*MetricsLogger, error) {
	mode := os.O_CREATE | os.O_WRONLY
	if append {
		mode |= os.O_APPEND
	} else {
		mode |= os.O_TRUNC
	}

	file, err := os.OpenFile(filename, mode, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics file %s: %w", filename, err)
	}

	m := &MetricsLogger{
		Filename: filename,
		RunID:    uuid.NewString(),
		file:     file,
		writer:   csv.NewWriter(file),
		start:    time.Now(),
	}

	info, err := file.Stat()
	if err == nil && info.Size() == 0 {
		m.writer.Write([]string{"run", "epoch", "train_loss", "train_acc", "val_loss", "val_acc", "lr", "time_seconds"})
		m.writer.Flush()
	}
	return m, nil
}

// Log writes one epoch row and flushes.
func (m *MetricsLogger) Log(epoch int, trainLoss, trainAcc, valLoss, valAcc, lr float64) error {
	elapsed := time.Since(m.start).Seconds()
	record := []string{
		m.RunID,
		strconv.Itoa(epoch),
		fmt.Sprintf("%.6f", trainLoss),
		fmt.Sprintf("%.4f", trainAcc),
		fmt.Sprintf("%.6f", valLoss),
		fmt.Sprintf("%.4f", valAcc),
		fmt.Sprintf("%.6g", lr),
		fmt.Sprintf("%.2f", elapsed),
	}
	if err := m.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write metrics record: %w", err)
	}
	m.writer.Flush()
	return m.writer.Error()
}

// Close flushes and closes the underlying file.
func (m *MetricsLogger) Close() error {
	if m.file == nil {
		return nil
	}
	m.writer.Flush()
	err := m.file.Close()
	m.file = nil
	m.writer = nil
	return err
}
