package shared

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// StatusCode represents a request or signal status code.
type StatusCode int

const (
	Processing StatusCode = iota
	Processed
)

// SignalKind represents the kind of a trading signal.
type SignalKind int

const (
	EntrySignal SignalKind = iota
	ExitSignal
	AddSignal
)

// String stringifies the provided signal kind.
func (k SignalKind) String() string {
	switch k {
	case EntrySignal:
		return "entry"
	case ExitSignal:
		return "exit"
	case AddSignal:
		return "add"
	default:
		return "unknown"
	}
}

// Signal represents a trading signal emitted by the model evaluator. The
// triggering snapshot is attached in full for audit and replay.
type Signal struct {
	ID           string
	Symbol       string
	Kind         SignalKind
	Price        float64
	Reasons      []Reason
	Snapshot     Snapshot
	Model        string
	ModelVersion string
	CreatedOn    time.Time
	Status       chan StatusCode
}

// NewSignal initializes a new signal.
func NewSignal(kind SignalKind, snap Snapshot, reasons []Reason, model string,
	version string, created time.Time) Signal {
	return Signal{
		ID:           uuid.New().String(),
		Symbol:       snap.Symbol,
		Kind:         kind,
		Price:        snap.LastPrice,
		Reasons:      reasons,
		Snapshot:     snap,
		Model:        model,
		ModelVersion: version,
		CreatedOn:    created,
		Status:       make(chan StatusCode, 1),
	}
}

// StringifyReasons stringifies the collection of reasons provided.
func StringifyReasons(reasons []Reason) string {
	buf := bytes.NewBuffer([]byte{})
	for idx := range reasons {
		buf.WriteString(reasons[idx].String())
		if idx < len(reasons)-1 {
			buf.WriteString(",")
		}
	}

	return buf.String()
}
