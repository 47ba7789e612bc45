package errorhandler

import (
	"context"
)

// Handler turns a failure into an Action. Handlers compose: most wrap another
// handler and rewrite or delay its verdict.
type Handler interface {
	Handle(ctx context.Context, ec ErrorContext) Action
}

type HandlerFunc func(ctx context.Context, ec ErrorContext) Action

func (f HandlerFunc) Handle(ctx context.Context, ec ErrorContext) Action {
	return f(ctx, ec)
}

type ActionType int

const (
	ActionTypeContinue  ActionType = iota // drop the record, its offset is still committed
	ActionTypeRetry                       // redo the failed unit of work
	ActionTypeFail                        // stop the chain, nothing further is committed
	ActionTypeSendToDLQ                   // dead-letter the record, then drop it
)

var actionNames = [...]string{
	ActionTypeContinue:  "Continue",
	ActionTypeRetry:     "Retry",
	ActionTypeFail:      "Fail",
	ActionTypeSendToDLQ: "SendToDLQ",
}

func (a ActionType) String() string {
	if a < 0 || int(a) >= len(actionNames) {
		return "Unknown"
	}
	return actionNames[a]
}

// Drops reports whether the record leaves the stream without reaching a store
func (a ActionType) Drops() bool {
	return a == ActionTypeContinue || a == ActionTypeSendToDLQ
}

type Action interface {
	Type() ActionType
}

var (
	_ Action = ActionContinue{}
	_ Action = ActionRetry{}
	_ Action = ActionFail{}
	_ Action = ActionSendToDLQ{}
)

type ActionContinue struct{}

func (ActionContinue) Type() ActionType { return ActionTypeContinue }

type ActionRetry struct{}

func (ActionRetry) Type() ActionType { return ActionTypeRetry }

type ActionFail struct{}

func (ActionFail) Type() ActionType { return ActionTypeFail }

// ActionSendToDLQ carries the dead-letter topic the record goes to
type ActionSendToDLQ struct {
	topic string
}

func NewActionSendToDLQ(topic string) ActionSendToDLQ {
	return ActionSendToDLQ{topic: topic}
}

func (ActionSendToDLQ) Type() ActionType { return ActionTypeSendToDLQ }

func (a ActionSendToDLQ) Topic() string {
	return a.topic
}
