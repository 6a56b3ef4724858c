package model

import (
	"time"

	"github.com/google/uuid"
)

// Event is one ranked categorical finding of a subject, the input record
// of the flow aggregator. Rank is the subject-local sequence position
// (1, 2, 3, ...) assigned by the caller.
type Event struct {
	SubjectID string `json:"subject_id"`
	Category  string `json:"category"`
	Rank      int    `json:"rank"`
}

// Transition is an order-free (source, target) category pair.
type Transition struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Observation is a dated, not yet ranked finding as stored in the
// observations table. Kind groups findings of the same family,
// e.g. "GGO_status_change".
type Observation struct {
	ID         int64     `json:"id"`
	RID        uuid.UUID `json:"rid"`
	SubjectID  string    `json:"subject_id"`
	Kind       string    `json:"kind"`
	Category   string    `json:"category"`
	ObservedOn time.Time `json:"observed_on"`
	Severity   int       `json:"severity"`
	Metadata   Metadata  `json:"metadata,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// SeverityScale orders categories from least to most severe.
type SeverityScale []string

// StatusChangeScale is the severity order used for radiology status change
// findings.
var StatusChangeScale = SeverityScale{
	"resolved/disappeared",
	"decreased/improved/reduced/shrink",
	"stable/no change/persistent",
	"increased/progressed",
}

// Severity returns the position of category in the scale, or -1 if the
// category is not part of it.
func (s SeverityScale) Severity(category string) int {
	for i, c := range s {
		if c == category {
			return i
		}
	}
	return -1
}
