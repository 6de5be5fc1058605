package models

import (
	"fmt"
	"strings"
)

// Status is a transaction state.
type Status string

const (
	StatusReceived  Status = "RECEIVED"
	StatusQueued    Status = "QUEUED"
	StatusTimeout   Status = "TIMEOUT"
	StatusCompleted Status = "COMPLETED"
	StatusRejected  Status = "REJECTED"
	StatusFailed    Status = "FAILED"
	StatusReversed  Status = "REVERSED"
)

var transitions = map[Status][]Status{
	StatusReceived:  {StatusQueued, StatusFailed},
	StatusQueued:    {StatusCompleted, StatusRejected, StatusTimeout},
	StatusTimeout:   {StatusCompleted, StatusFailed},
	StatusCompleted: {StatusReversed},
}

// IsTerminal reports whether s is a final outcome.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusFailed, StatusReversed:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a direct successor of s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known state.
func (s Status) Valid() bool {
	switch s {
	case StatusReceived, StatusQueued, StatusTimeout, StatusCompleted,
		StatusRejected, StatusFailed, StatusReversed:
		return true
	}
	return false
}

// ParseStatus parses a status case-insensitively.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown transaction status %q", raw)
	}
	return s, nil
}

// PathBetween returns the hops (excluding from) of the shortest legal path
// from one status to another, or nil when to is unreachable.
func PathBetween(from, to Status) []Status {
	if from == to {
		return []Status{}
	}

	prev := map[Status]Status{from: ""}
	queue := []Status{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range transitions[cur] {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == to {
				var path []Status
				for s := to; s != from; s = prev[s] {
					path = append([]Status{s}, path...)
				}
				return path
			}
			queue = append(queue, next)
		}
	}
	return nil
}

// TransitionError reports an edge that is not part of the state machine.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
