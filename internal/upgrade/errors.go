package upgrade

import (
	"errors"
	"fmt"

	"hotswap/internal/runner"
)

// ErrInProgress is returned when a trigger arrives while a cycle is in
// flight, or before the first build has finished.
var ErrInProgress = errors.New("upgrade already in progress")

// PullError reports a failed fetch command. The active server was not
// touched.
type PullError struct {
	Command string
	Result  *runner.Result
	Err     error
}

func (e *PullError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("pull failed: %v", e.Err)
	}
	return fmt.Sprintf("pull command %q failed: %v", e.Command, e.Err)
}

func (e *PullError) Unwrap() error {
	return e.Err
}
