// Package catalog publishes one record per finalized call to the artifact
// catalog. A failed insert is journaled locally and replayed later.
package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Record describes the artifacts of one call
type Record struct {
	ID                 string    `json:"id"`
	CallID             string    `json:"call_id"`
	FromNumber         string    `json:"from_number"`
	ToNumber           string    `json:"to_number"`
	OriginalFromNumber string    `json:"original_from_number"`
	Direction          string    `json:"direction"`
	Result             string    `json:"result"`
	Date               string    `json:"date"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	DurationSeconds    float64   `json:"duration_seconds"`
	FileSize           int64     `json:"file_size"`
	InPath             string    `json:"in_path,omitempty"`
	OutPath            string    `json:"out_path,omitempty"`
	MergePath          string    `json:"merge_path,omitempty"`
}

// NewRecord returns a record with a fresh id. The id lets consumers drop
// the duplicates a journal replay can produce.
func NewRecord(callID string) Record {
	return Record{ID: uuid.NewString(), CallID: callID}
}
