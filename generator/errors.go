package generator

import (
	"errors"
	"fmt"
)

var (
	ErrPerceptionFailed        = errors.New("perception failed")
	ErrPlanningFailed          = errors.New("planning failed")
	ErrInitialGenerationFailed = errors.New("initial generation failed")
	ErrMissingTemplate         = errors.New("prompt template missing")
	ErrEmptyResponse           = errors.New("model returned empty content")
)

// StageError 记录哪一步失败，以及网关给出的原因。
// errors.Is 对 Kind 和 Err 都成立。
type StageError struct {
	Stage string
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
