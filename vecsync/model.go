package vecsync

import (
	"encoding/json"
	"time"
)

// Op names a logged change.
type Op string

const (
	OpInsert    Op = "insert"
	OpUpdate    Op = "update"
	OpTombstone Op = "tombstone"
	OpRestore   Op = "restore"
	OpPurge     Op = "purge"
)

// LogEntry mirrors a single row in memory_log. Payload is the JSON image of
// the record row after the change (before it, for purges).
type LogEntry struct {
	SCN       int64           `json:"scn"`
	Op        Op              `json:"op"`
	MemoryID  string          `json:"memory_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
