package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"bookinglens/internal/analytics"
)

// ExportRequestMessage asks the worker to render report tables for a
// dataset. It carries the dashboard query, not the data; the worker loads
// the dataset from the shared store.
type ExportRequestMessage struct {
	JobID       string          `json:"jobId"`
	DatasetID   string          `json:"datasetId"`
	Query       analytics.Query `json:"query"`
	Tables      []string        `json:"tables"`
	Formats     []string        `json:"formats"`
	RequestedAt time.Time       `json:"requestedAt"`
}

// NewExportRequestMessage creates a request stamped with the current time.
func NewExportRequestMessage(jobID, datasetID string, q analytics.Query, tables, formats []string) *ExportRequestMessage {
	return &ExportRequestMessage{
		JobID:       jobID,
		DatasetID:   datasetID,
		Query:       q,
		Tables:      tables,
		Formats:     formats,
		RequestedAt: time.Now(),
	}
}

// Validate checks the fields the worker relies on.
func (m *ExportRequestMessage) Validate() error {
	switch {
	case m.JobID == "":
		return errors.New("job id is required")
	case m.DatasetID == "":
		return errors.New("dataset id is required")
	case len(m.Tables) == 0:
		return errors.New("at least one table is required")
	case len(m.Formats) == 0:
		return errors.New("at least one format is required")
	}
	return nil
}

// ToJSON converts the message to JSON bytes
func (m *ExportRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ExportRequestMessageFromJSON creates a message from JSON bytes
func ExportRequestMessageFromJSON(data []byte) (*ExportRequestMessage, error) {
	var msg ExportRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
