package embedding

import "fmt"

// BackendError reports a non-2xx reply from the embedding backend.
type BackendError struct {
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("embedding backend http %d: %s", e.Status, e.Body)
}

func (e *BackendError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.Status
}

// ShapeError reports a well-formed reply whose shape does not match the
// request: wrong vector count or wrong vector width.
type ShapeError struct {
	What string
	Want int
	Got  int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("embedding shape mismatch: want %d %s, got %d", e.Want, e.What, e.Got)
}
