package orchestration

import (
	"errors"
	"fmt"
	"strings"

	"github.com/koscakluka/ema-graph/core/bridges"
)

var (
	// ErrConfiguration matches every configuration error reported by Register
	// and Start.
	ErrConfiguration = bridges.ErrConfiguration

	ErrAlreadyStarted = errors.New("system already started")
	ErrNotStarted     = errors.New("system not started")
	// ErrShutdown is returned once the system is shutting down and is the
	// cause of generations cancelled by the shutdown.
	ErrShutdown = errors.New("system shut down")
)

// ShutdownTimeoutError lists the nodes whose generation did not terminate
// within the shutdown grace period. Their tasks were abandoned.
type ShutdownTimeoutError struct {
	Leaked []string
}

func (e *ShutdownTimeoutError) Error() string {
	return fmt.Sprintf("shutdown timed out, generation still running for nodes: %s", strings.Join(e.Leaked, ", "))
}

func (e *ShutdownTimeoutError) Unwrap() error { return bridges.ErrTaskLeaked }

func configurationErrorf(format string, args ...any) error {
	return &bridges.ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}
