package pipeline

import (
	"errors"
	"fmt"
)

// DependencyFailureReason is the failure message recorded when a component is
// skipped because an upstream dependency did not complete. The distinct text
// lets operators tell "upstream failed" from "this component itself errored".
const DependencyFailureReason = "Dependencies not satisfied"

// FatalError marks conditions that abort the whole audit rather than a single
// component: a crawl that produced zero pages, a missing audit record. It is
// the only error class allowed to escape the worker so the job queue applies
// its retry policy to the entire job.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal audit error: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err as a whole-audit failure.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err is a whole-audit failure.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// ErrZeroPages signals a crawl that fetched nothing usable.
var ErrZeroPages = errors.New("crawl produced zero pages")
