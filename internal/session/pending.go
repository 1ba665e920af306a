package session

import "time"

// DefaultPendingTimeout is how long a confirmation slot stays valid.
const DefaultPendingTimeout = 30 * time.Second

// PendingAction is a one-slot record asking the next utterance to confirm
// or refine a previous command, e.g. "which one do you want to delete?".
type PendingAction struct {
	// ActionType is a short tag such as "delete_content".
	ActionType string

	// HandlerName routes the follow-up text back to the handler that
	// created the slot.
	HandlerName string

	// Data is an opaque payload only that handler understands.
	Data any

	CreatedAt time.Time
	Timeout   time.Duration
}

// NewPendingAction creates a slot stamped now with the default timeout.
func NewPendingAction(actionType, handlerName string, data any) *PendingAction {
	return &PendingAction{
		ActionType:  actionType,
		HandlerName: handlerName,
		Data:        data,
		CreatedAt:   time.Now(),
		Timeout:     DefaultPendingTimeout,
	}
}

// Expired reports whether the slot has outlived its timeout at the given
// instant.
func (p *PendingAction) Expired(now time.Time) bool {
	return now.Sub(p.CreatedAt) >= p.Timeout
}
