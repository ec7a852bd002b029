package core

import "github.com/google/uuid"

// NewCommandID generates a unique identifier for a command, used for log
// correlation and trace span naming.
func NewCommandID() string {
	return uuid.New().String()
}
