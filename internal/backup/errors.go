package backup

import (
	"errors"
	"fmt"
)

// Kind classifies why a step failed.
type Kind string

const (
	KindConfig     Kind = "config"
	KindIO         Kind = "io"
	KindSubprocess Kind = "subprocess"
	KindStorage    Kind = "storage"
	KindValidation Kind = "validation"
)

type StepError struct {
	Step string
	Kind Kind
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed (%s error): %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func stepErr(step string, kind Kind, err error) error {
	return &StepError{Step: step, Kind: kind, Err: err}
}

// KindOf reports the Kind of the first StepError in err's chain.
func KindOf(err error) (Kind, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}
