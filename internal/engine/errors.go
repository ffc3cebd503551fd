package engine

import (
	"fmt"
	"strings"
)

// Business outcomes are typed errors so the API layer can map them to
// user-facing responses without parsing messages. Storage failures are the
// only errors that pass through unwrapped.

// ValidationError indicates a malformed request (bad title length, malformed
// date, too many Top3 tasks).
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// CycleError indicates a reparent that would make a task its own ancestor.
type CycleError struct {
	TaskID      string
	NewParentID string
}

func (e CycleError) Error() string {
	return fmt.Sprintf("cannot move task %s under %s: cycle detected", e.TaskID, e.NewParentID)
}

// AlreadySetError indicates a Top3 selection already exists for the day.
type AlreadySetError struct {
	UserID string
	Date   string
}

func (e AlreadySetError) Error() string {
	return fmt.Sprintf("top3 already set for %s on %s", e.UserID, e.Date)
}

// InsufficientBalanceError indicates the points balance cannot cover a cost.
type InsufficientBalanceError struct {
	Balance  int
	Required int
}

func (e InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %d, need %d", e.Balance, e.Required)
}

// MaterialShortage describes one unmet recipe requirement.
type MaterialShortage struct {
	ItemID   string `json:"item_id"`
	Required int    `json:"required"`
	Held     int    `json:"held"`
}

// InsufficientMaterialsError carries every short item of a craft attempt.
type InsufficientMaterialsError struct {
	Shortages []MaterialShortage
}

func (e InsufficientMaterialsError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s short by %d", s.ItemID, s.Required-s.Held))
	}
	return "insufficient materials: " + strings.Join(parts, ", ")
}
