package memory

import (
	"fmt"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("arbor.memory")

// InvariantError reports a violated core invariant: allocator exhaustion,
// allocation during collection, a corrupt type model and the like. These
// are bugs in the core model rather than bad input, so they are raised with
// panic instead of being returned.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return "invariant violated: " + e.Msg
}

// Fatalf logs a critical diagnostic and panics with an *InvariantError.
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Critical(msg)
	panic(&InvariantError{Msg: msg})
}
