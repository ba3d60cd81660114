package ingestion

import "fmt"

// IngestError tags a pipeline failure with the stage that produced it.
// Fragments committed before the failing stage remain visible; the
// pipeline never unwinds completed inserts.
type IngestError struct {
	Stage string
	Err   error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest stage %s: %v", e.Stage, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) *IngestError {
	return &IngestError{Stage: stage, Err: err}
}
