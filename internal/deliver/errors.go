package deliver

import (
	"errors"
	"fmt"
)

// Stage names the pipeline step a delivery failed in.
type Stage string

const (
	StageConfig    Stage = "config"
	StageIdentity  Stage = "identity"
	StagePrivilege Stage = "privilege"
	StagePath      Stage = "path"
	StageAddress   Stage = "address"
	StageIO        Stage = "io"
)

// ErrImplausibleAddress is returned for a sender or recipient that is empty
// or contains anything other than printable, non-space ASCII.
var ErrImplausibleAddress = errors.New("implausible address")

// StageError ties a failure to the stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the stage recorded in err, if any.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

func fail(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}
