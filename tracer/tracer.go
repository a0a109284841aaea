// Package tracer defines the narrow structured-tracing collaborator named
// in spec.md §6 ("Tracing sink") and its default zerolog-backed
// implementation.
package tracer

// Context carries the correlation fields a trace line may attach,
// matching spec.md §6: "{sessionId, traceId, requestId, command, phase,
// outcome}". All fields are optional; zero values are omitted by the
// default implementation.
type Context struct {
	SessionID string
	TraceID   string
	RequestID string
	Command   string
	Phase     string
	Outcome   string
}

// Tracer is the optional structured tracing sink. Implementations emit
// one line per call; there is no buffering or sampling contract.
type Tracer interface {
	Send(component, messageType string, body any, ctx Context)
	Error(component string, err error, ctx Context)
}

// Noop discards every call. Used when no tracer is configured.
type Noop struct{}

func (Noop) Send(component, messageType string, body any, ctx Context) {}
func (Noop) Error(component string, err error, ctx Context)            {}

var _ Tracer = Noop{}
