package vector

import (
	"errors"
	"fmt"
)

var ErrEmptyVector = errors.New("vector: empty vector")

// InsertError means the store rejected or failed a write. The in-memory index
// is guaranteed unchanged when one is returned.
type InsertError struct {
	Reason string
	Err    error
}

func (e *InsertError) Error() string {
	if e == nil {
		return "insert fragment"
	}
	if e.Err != nil {
		return fmt.Sprintf("insert fragment: %s: %v", e.Reason, e.Err)
	}
	return "insert fragment: " + e.Reason
}

func (e *InsertError) Unwrap() error { return e.Err }
