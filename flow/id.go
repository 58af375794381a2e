package flow

import "github.com/google/uuid"

// NewExecutionID returns a fresh execution identifier.
func NewExecutionID() string {
	return "exec_" + uuid.NewString()
}
