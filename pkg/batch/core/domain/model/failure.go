package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// FailureList holds the failure messages recorded on an execution.
type FailureList []string

// Value implements driver.Valuer.
func (fl FailureList) Value() (driver.Value, error) {
	if fl == nil {
		return "[]", nil
	}
	data, err := json.Marshal(fl)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (fl *FailureList) Scan(value interface{}) error {
	b, err := scanBytes(value, "FailureList")
	if err != nil {
		return err
	}
	*fl = make(FailureList, 0)
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, fl); err != nil {
		return fmt.Errorf("failed to unmarshal FailureList JSON: %w", err)
	}
	return nil
}

// add appends msg unless it is already present.
func (fl *FailureList) add(msg string) bool {
	for _, existing := range *fl {
		if existing == msg {
			return false
		}
	}
	*fl = append(*fl, msg)
	return true
}

// Last returns the most recent failure, or "".
func (fl FailureList) Last() string {
	if len(fl) == 0 {
		return ""
	}
	return fl[len(fl)-1]
}

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}
