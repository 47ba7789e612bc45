//go:build unit

package errorhandler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hugolhafner/dskit/backoff"
	"github.com/hugolhafner/smartcity/errorhandler"
	"github.com/hugolhafner/smartcity/kafka"
	"github.com/hugolhafner/smartcity/logger"
	mocklogger "github.com/hugolhafner/smartcity/logger/mock"
	"github.com/stretchr/testify/require"
)

func TestLogAndContinue(t *testing.T) {
	t.Parallel()
	var testErr = errors.New("processing failed")

	tests := []struct {
		name string
		err  error
	}{
		{"simple error", testErr},
		{"nil error", nil},
	}

	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				t.Parallel()
				ec := errorhandler.NewErrorContext(kafka.ConsumerRecord{}, nil)

				l := mocklogger.New()
				h := errorhandler.LogAndContinue(l)
				action := h.Handle(context.Background(), ec.WithError(tt.err))

				require.Equal(t, errorhandler.ActionContinue{}, action)
				l.AssertCalledWithLevelAndMessage(t, logger.ErrorLevel, "error processing record, skipping")
			},
		)
	}
}

func TestLogAndFail(t *testing.T) {
	t.Parallel()
	var testErr = errors.New("processing failed")

	tests := []struct {
		name string
		err  error
	}{
		{"simple error", testErr},
		{"nil error", nil},
	}

	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				t.Parallel()
				ec := errorhandler.NewErrorContext(kafka.ConsumerRecord{}, nil)

				l := mocklogger.New()
				h := errorhandler.LogAndFail(l)
				action := h.Handle(context.Background(), ec.WithError(tt.err))

				require.Equal(t, errorhandler.ActionFail{}, action)
				l.AssertCalledWithLevelAndMessage(t, logger.ErrorLevel, "error processing record, failing")
			},
		)
	}
}

func TestWithMaxAttempts(t *testing.T) {
	t.Parallel()
	t.Run(
		"should call fallback after max attempts", func(t *testing.T) {
			t.Parallel()
			var testErr = errors.New("processing failed")
			var maxAttempts = 3

			ec := errorhandler.NewErrorContext(kafka.ConsumerRecord{}, testErr)

			fallbackCalled := false
			fallback := errorhandler.HandlerFunc(
				func(ctx context.Context, ec errorhandler.ErrorContext) errorhandler.Action {
					fallbackCalled = true
					return errorhandler.ActionFail{}
				},
			)

			h := errorhandler.WithMaxAttempts(
				maxAttempts,
				backoff.NewFixed(0),
				fallback,
			)

			for i := 1; i < maxAttempts; i++ {
				action := h.Handle(context.Background(), ec.WithAttempt(i))
				require.False(t, fallbackCalled, "fallback should not be called yet on attempt %d", i)
				require.Equal(t, errorhandler.ActionRetry{}, action)
			}

			action := h.Handle(context.Background(), ec.WithAttempt(maxAttempts+1))
			require.True(t, fallbackCalled, "fallback should have been called")
			require.Equal(t, errorhandler.ActionFail{}, action)
		},
	)

	t.Run(
		"should wait on attempts", func(t *testing.T) {
			t.Parallel()
			var testErr = errors.New("processing failed")
			var maxAttempts = 3

			ec := errorhandler.NewErrorContext(kafka.ConsumerRecord{}, testErr)

			fallbackCalled := false
			fallback := errorhandler.HandlerFunc(
				func(ctx context.Context, ec errorhandler.ErrorContext) errorhandler.Action {
					fallbackCalled = true
					return errorhandler.ActionFail{}
				},
			)

			h := errorhandler.WithMaxAttempts(
				maxAttempts,
				backoff.NewFixed(100*time.Millisecond),
				fallback,
			)

			start := time.Now()
			action := h.Handle(context.Background(), ec.WithAttempt(2))
			elapsed := time.Since(start)

			require.False(t, fallbackCalled, "fallback should not be called yet")
			require.Equal(t, errorhandler.ActionRetry{}, action)
			require.GreaterOrEqual(t, elapsed, 100*time.Millisecond, "should have waited on retry attempt")
		},
	)

	t.Run(
		"should respect context cancellation", func(t *testing.T) {
			t.Parallel()
			var testErr = errors.New("processing failed")
			var maxRetries = 3

			ec := errorhandler.NewErrorContext(kafka.ConsumerRecord{}, testErr)

			fallbackCalled := false
			fallback := errorhandler.HandlerFunc(
				func(ctx context.Context, ec errorhandler.ErrorContext) errorhandler.Action {
					fallbackCalled = true
					return errorhandler.ActionFail{}
				},
			)

			h := errorhandler.WithMaxAttempts(
				maxRetries,
				backoff.NewFixed(time.Millisecond),
				fallback,
			)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			action := h.Handle(ctx, ec)
			require.False(t, fallbackCalled, "fallback should not be called yet")
			require.Equal(
				t, errorhandler.ActionFail{}, action, "expected ActionTypeFail on context cancellation, got: %v",
				action.Type().String(),
			)
		},
	)
}

func TestRetryWithBackoff(t *testing.T) {
	t.Parallel()

	t.Run(
		"should retry and log", func(t *testing.T) {
			t.Parallel()
			l := mocklogger.New()
			h := errorhandler.RetryWithBackoff(l, backoff.NewFixed(0))

			ec := errorhandler.NewBatchErrorContext("vehicle_data", 3, errors.New("write failed"))
			for i := 1; i <= 5; i++ {
				require.Equal(t, errorhandler.ActionRetry{}, h.Handle(context.Background(), ec.WithAttempt(i)))
			}
			require.Equal(t, 5, l.CountMessage("retrying after failure"))
		},
	)

	t.Run(
		"should fail on cancelled context", func(t *testing.T) {
			t.Parallel()
			h := errorhandler.RetryWithBackoff(mocklogger.New(), backoff.NewFixed(time.Second))

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			ec := errorhandler.NewBatchErrorContext("vehicle_data", 1, errors.New("write failed"))
			require.Equal(t, errorhandler.ActionFail{}, h.Handle(ctx, ec))
		},
	)
}

func TestWithDLQ(t *testing.T) {
	t.Parallel()
	ec := errorhandler.NewErrorContext(kafka.ConsumerRecord{}, errors.New("bad payload"))

	tests := []struct {
		name     string
		inner    errorhandler.Handler
		expected errorhandler.Action
	}{
		{"nil inner", nil, errorhandler.NewActionSendToDLQ("dead")},
		{"continue becomes dlq", errorhandler.LogAndContinue(logger.NewNoopLogger()), errorhandler.NewActionSendToDLQ("dead")},
		{"fail is kept", errorhandler.LogAndFail(logger.NewNoopLogger()), errorhandler.ActionFail{}},
	}

	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				t.Parallel()
				action := errorhandler.WithDLQ("dead", tt.inner).Handle(context.Background(), ec)
				require.Equal(t, tt.expected, action)
				if dlq, ok := action.(errorhandler.ActionSendToDLQ); ok {
					require.Equal(t, "dead", dlq.Topic())
				}
			},
		)
	}
}

func TestActionLogger(t *testing.T) {
	t.Parallel()
	l := mocklogger.New()
	h := errorhandler.ActionLogger(l, logger.WarnLevel, errorhandler.SilentFail())

	action := h.Handle(context.Background(), errorhandler.NewErrorContext(kafka.ConsumerRecord{}, errors.New("x")))

	require.Equal(t, errorhandler.ActionFail{}, action)
	l.AssertCalledWithLevelAndMessage(t, logger.WarnLevel, "Error handler decision")
}

func TestActionType_String(t *testing.T) {
	t.Parallel()
	require.Equal(t, "Continue", errorhandler.ActionTypeContinue.String())
	require.Equal(t, "Retry", errorhandler.ActionTypeRetry.String())
	require.Equal(t, "Fail", errorhandler.ActionTypeFail.String())
	require.Equal(t, "SendToDLQ", errorhandler.ActionTypeSendToDLQ.String())
	require.Equal(t, "Unknown", errorhandler.ActionType(42).String())
}

func TestActionType_Drops(t *testing.T) {
	t.Parallel()
	require.True(t, errorhandler.ActionTypeContinue.Drops())
	require.True(t, errorhandler.ActionTypeSendToDLQ.Drops())
	require.False(t, errorhandler.ActionTypeRetry.Drops())
	require.False(t, errorhandler.ActionTypeFail.Drops())
	require.Equal(t, "Unknown", errorhandler.ActionType(-1).String())
}
