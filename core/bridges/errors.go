package bridges

import (
	"errors"
	"fmt"

	"github.com/koscakluka/ema-graph/core/events"
)

var (
	// ErrConfiguration matches every ConfigurationError.
	ErrConfiguration = errors.New("configuration error")
	// ErrInterrupted is the cause of cancellations triggered by InterruptOn.
	ErrInterrupted = errors.New("generation interrupted")
	// ErrReplaced is the cause of cancellations made by the Replace policy.
	ErrReplaced = errors.New("generation replaced by newer trigger")
	// ErrTaskLeaked reports a generation that did not stop in time.
	ErrTaskLeaked = errors.New("generation task did not terminate")

	ErrAlreadyStarted = errors.New("bridge already started")
	ErrStopped        = errors.New("bridge stopped")
)

// ConfigurationError reports invalid wiring. It is fatal at startup.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

func configurationErrorf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// RoutingError reports a filter or map stage that failed. Only the offending
// event is dropped.
type RoutingError struct {
	Node  string
	Kind  events.Kind
	Stage string
	Err   error
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("node %q: %s stage failed on %s: %v", e.Node, e.Stage, e.Kind, e.Err)
}

func (e *RoutingError) Unwrap() error { return e.Err }

// GenerationError reports a generation task that failed. The route returns
// to idle.
type GenerationError struct {
	Node string
	Kind events.Kind
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("node %q: generation triggered by %s failed: %v", e.Node, e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
