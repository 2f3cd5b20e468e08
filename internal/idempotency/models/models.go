package models

import (
	"encoding/json"
	"time"
)

// Record is one cached outcome of an idempotent operation.
type Record struct {
	Key        string
	UserID     string
	Operation  string
	ResultData json.RawMessage
	ResultHash string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// IsExpired reports whether the record should be treated as a miss at now.
func (r *Record) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
