package core

import (
	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	// Use UUID v7 for time-ordered, sortable IDs
	// Falls back to v4 if v7 is not available (for compatibility)
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	// ScreenID identifies one screening invocation
	ScreenID ID
	// PredictorKey names a candidate predictor column
	PredictorKey string
)

// NewScreenID creates a new screen run identifier
func NewScreenID() ScreenID {
	return ScreenID(NewID())
}

func (id ScreenID) String() string {
	return string(id)
}
