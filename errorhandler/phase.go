package errorhandler

import (
	"context"
)

// ErrorPhase indicates where in a chain an error occurred
type ErrorPhase int

const (
	PhaseUnknown ErrorPhase = iota // zero value - uninitialized phase
	PhaseDecode                    // raw record failed schema decoding
	PhaseSink                      // batch commit to the store failed
)

func (p ErrorPhase) String() string {
	switch p {
	case PhaseUnknown:
		return "unknown"
	case PhaseDecode:
		return "decode"
	case PhaseSink:
		return "sink"
	default:
		return "unknown"
	}
}

var _ Handler = (*PhaseRouter)(nil)

type PhaseRouter struct {
	handler       Handler
	decodeHandler Handler
	sinkHandler   Handler
}

// NewPhaseRouter creates a PhaseRouter with a handler per phase.
// A nil phase handler falls back to handler, and a nil handler defaults to SilentFail.
func NewPhaseRouter(handler Handler, decodeHandler Handler, sinkHandler Handler) *PhaseRouter {
	if handler == nil {
		handler = SilentFail()
	}

	return &PhaseRouter{
		handler:       handler,
		decodeHandler: decodeHandler,
		sinkHandler:   sinkHandler,
	}
}

func (r *PhaseRouter) Handle(ctx context.Context, ec ErrorContext) Action {
	switch ec.Phase {
	case PhaseDecode:
		if r.decodeHandler != nil {
			return r.decodeHandler.Handle(ctx, ec)
		}
	case PhaseSink:
		if r.sinkHandler != nil {
			return r.sinkHandler.Handle(ctx, ec)
		}
	case PhaseUnknown:
	default:
	}

	return r.handler.Handle(ctx, ec)
}
