package record

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/reflexhq/reflex/metrics"
	"github.com/reflexhq/reflex/shared"
	"github.com/rs/zerolog"
)

const (
	// bufferSize is the default buffer size for channels.
	bufferSize = 256
)

// Record represents an immutable diagnostic record of a decision and its
// contributing fields, appended for later replay and audit.
type Record struct {
	Symbol       string          `json:"symbol"`
	At           time.Time       `json:"at"`
	Kind         string          `json:"kind"`
	Outcome      string          `json:"outcome"`
	Reasons      string          `json:"reasons,omitempty"`
	SignalID     string          `json:"signal_id,omitempty"`
	Model        string          `json:"model,omitempty"`
	ModelVersion string          `json:"model_version,omitempty"`
	Price        float64         `json:"price,omitempty"`
	Snapshot     shared.Snapshot `json:"snapshot"`
}

// NewSignalRecord builds a record for an emitted signal.
func NewSignalRecord(signal *shared.Signal) Record {
	return Record{
		Symbol:       signal.Symbol,
		At:           signal.CreatedOn,
		Kind:         "signal",
		Outcome:      signal.Kind.String(),
		Reasons:      shared.StringifyReasons(signal.Reasons),
		SignalID:     signal.ID,
		Model:        signal.Model,
		ModelVersion: signal.ModelVersion,
		Price:        signal.Price,
		Snapshot:     signal.Snapshot,
	}
}

// NewDecisionRecord builds a record for an evaluation that did not emit a
// signal, with the rejection or filter reason.
func NewDecisionRecord(snap *shared.Snapshot, outcome string, reason string) Record {
	return Record{
		Symbol:   snap.Symbol,
		At:       snap.At,
		Kind:     "decision",
		Outcome:  outcome,
		Reasons:  reason,
		Snapshot: *snap,
	}
}

// NewQualityRecord builds a record for a data quality issue.
func NewQualityRecord(symbol string, at time.Time, issue string) Record {
	return Record{
		Symbol:  symbol,
		At:      at,
		Kind:    "quality",
		Outcome: issue,
	}
}

// RecorderConfig represents the diagnostics recorder configuration.
type RecorderConfig struct {
	// FilePath is the filepath for the diagnostic record log.
	FilePath string
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Recorder appends immutable, timestamped diagnostic records keyed by symbol.
// Recording is best-effort and never blocks the evaluation path: a full
// channel drops the record, and write failures are logged and discarded.
type Recorder struct {
	cfg     *RecorderConfig
	file    *os.File
	encoder *json.Encoder
	records chan Record
}

// NewRecorder initializes a new diagnostics recorder.
func NewRecorder(cfg *RecorderConfig) (*Recorder, error) {
	file, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening diagnostic record log: %w", err)
	}

	return &Recorder{
		cfg:     cfg,
		file:    file,
		encoder: json.NewEncoder(file),
		records: make(chan Record, bufferSize),
	}, nil
}

// SendRecord relays the provided record for appending.
func (r *Recorder) SendRecord(record Record) {
	select {
	case r.records <- record:
		// do nothing.
	default:
		metrics.DiagnosticsDroppedTotal.Inc()
		r.cfg.Logger.Debug().Msgf("diagnostic record dropped: %s", spew.Sdump(record))
	}
}

// handleRecord appends the provided record to the log.
func (r *Recorder) handleRecord(record *Record) {
	err := r.encoder.Encode(record)
	if err != nil {
		r.cfg.Logger.Error().Msgf("appending diagnostic record: %v", err)
	}
}

// Run manages the lifecycle processes of the recorder.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case record := <-r.records:
			r.handleRecord(&record)

		case <-ctx.Done():
			// Drain pending records before closing the log.
			for {
				select {
				case record := <-r.records:
					r.handleRecord(&record)
				default:
					_ = r.file.Close()
					return
				}
			}
		}
	}
}
