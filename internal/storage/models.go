package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AssessmentRecord is a persisted risk scoring pass.
type AssessmentRecord struct {
	ID        uuid.UUID
	SubjectID string
	Score     int
	Label     string
	Reasons   []string
	Critical  []string
	Factors   json.RawMessage
	FetchedAt time.Time
	CreatedAt time.Time
}

// GateDecisionRecord captures one access gate outcome for auditing.
type GateDecisionRecord struct {
	ID           uuid.UUID
	Chain        string
	SubjectID    string
	Wallet       string
	Allowed      bool
	DecidedBy    string
	Code         string
	Message      string
	Status       int
	Trail        json.RawMessage
	AssessmentID *uuid.UUID
	CreatedAt    time.Time
}
