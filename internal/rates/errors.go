package rates

import (
	"errors"
	"fmt"
)

var errSourceDisabled = errors.New("rate source not configured")

// SourceError describes a failed call to one rate source.
type SourceError struct {
	Source string
	Status int
	Detail string
	Err    error
}

func (e *SourceError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s rates: %v", e.Source, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s rates: status %d", e.Source, e.Status)
	default:
		return fmt.Sprintf("%s rates: %s", e.Source, e.Detail)
	}
}

func (e *SourceError) Unwrap() error {
	return e.Err
}
