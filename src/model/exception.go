package model

import "time"

// Exception represents a task-level error captured at a task boundary and
// persisted for auditing when the journal database is enabled. Captured
// errors count against the session's error budget.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Where the error happened
	Task   string `gorm:"size:100;index" json:"task"` // e.g. "watchdog"
	Method string `gorm:"size:100" json:"method"`     // e.g. "CheckExit"

	// Error information
	Message string `gorm:"type:text" json:"message"` // err.Error()
	Stack   string `gorm:"type:text" json:"stack"`   // stack trace (optional)

	// Severity level
	Level string `gorm:"size:20;index" json:"level"` // debug | info | warn | error | fatal

	// Extra context stored as JSON (optional)
	Context string `gorm:"type:text" json:"context,omitempty"`

	// Audit info
	CreatedAt time.Time `json:"created_at"`
}
