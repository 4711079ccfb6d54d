package model

import "time"

// UIInteractionType classifies an interaction; UserInput is the only type
// defined by the core, per §3.
type UIInteractionType string

const UIInteractionUserInput UIInteractionType = "UserInput"

// UIInteractionStatus is the lifecycle status of a UIInteraction (§3).
type UIInteractionStatus string

const (
	UIInteractionPending    UIInteractionStatus = "Pending"
	UIInteractionInProgress UIInteractionStatus = "InProgress"
	UIInteractionCompleted  UIInteractionStatus = "Completed"
	UIInteractionCancelled  UIInteractionStatus = "Cancelled"
	UIInteractionTimeout    UIInteractionStatus = "Timeout"
)

// IsOpen reports whether the interaction can still be completed (§4.5
// "Resume ... Verify the interaction exists and is in {Pending, InProgress}").
func (s UIInteractionStatus) IsOpen() bool {
	return s == UIInteractionPending || s == UIInteractionInProgress
}

// UIInteraction is a long-lived request for user input that suspends a node
// (§3 "UIInteraction").
type UIInteraction struct {
	ID            string               `json:"id"`
	ExecutionID   string               `json:"executionId"`
	NodeID        string               `json:"nodeId"`
	Type          UIInteractionType    `json:"type"`
	Status        UIInteractionStatus  `json:"status"`
	Title         string               `json:"title"`
	Description   string               `json:"description"`
	InputSchema   map[string]any       `json:"inputSchema,omitempty"`
	InputData     map[string]any       `json:"inputData,omitempty"`
	OutputData    map[string]any       `json:"outputData,omitempty"`
	Timeout       time.Duration        `json:"timeout"`
	CreatedAt     time.Time            `json:"createdAt"`
	CompletedAt   *time.Time           `json:"completedAt,omitempty"`
	Metadata      map[string]any       `json:"metadata,omitempty"`
}

// Expired reports whether the interaction's timeout has elapsed as of now
// (§4.5 "Resume ... Verify the timeout has not elapsed").
func (u *UIInteraction) Expired(now time.Time) bool {
	return now.After(u.CreatedAt.Add(u.Timeout))
}

// DefaultInteractionTimeout is the fallback used when a node doesn't carry
// its own timeout override (§4.5 "default 30 minutes from creation").
const DefaultInteractionTimeout = 30 * time.Minute

// NonInteractiveUITypes are the program UiType values that never suspend a
// node for user input (§4.5 "A program is deemed interactive iff (a) its
// UiType is not in {...}").
var NonInteractiveUITypes = map[string]bool{
	"console": true,
	"none":    true,
	"cli":     true,
	"batch":   true,
	"service": true,
}
