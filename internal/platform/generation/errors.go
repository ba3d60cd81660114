package generation

import "fmt"

// GenerationError reports a non-2xx reply from the chat completion backend.
type GenerationError struct {
	Status int
	Body   string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation backend http %d: %s", e.Status, e.Body)
}

func (e *GenerationError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.Status
}
