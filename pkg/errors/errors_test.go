package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		retryable bool
		manual    bool
		fatal     bool
	}{
		{ErrorTypeExtractionSkip, false, false, false},
		{ErrorTypePageLoadTimeout, true, false, false},
		{ErrorTypeStagnantFeed, false, false, false},
		{ErrorTypeAuthenticationRequired, false, false, true},
		{ErrorTypeChallengeDetected, false, true, true},
		{ErrorTypeCancelled, false, false, true},
		{ErrorTypeDriver, false, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.errorType), func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.errorType))
			assert.Equal(t, tt.manual, RequiresManualIntervention(tt.errorType))
			assert.Equal(t, tt.fatal, IsFatal(tt.errorType))
		})
	}
}

func TestTypeOfThroughWrapping(t *testing.T) {
	base := New(ErrorTypeAuthenticationRequired, "redirected to /login")
	wrapped := fmt.Errorf("crawl $ABC: %w", base)

	assert.Equal(t, ErrorTypeAuthenticationRequired, TypeOf(wrapped))
	assert.True(t, stderrors.Is(wrapped, &Error{Type: ErrorTypeAuthenticationRequired}))
	assert.False(t, stderrors.Is(wrapped, &Error{Type: ErrorTypeCancelled}))
	assert.Equal(t, ErrorType(""), TypeOf(nil))
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))

	e := Classify(fmt.Errorf("waiting: %w", context.Canceled))
	assert.Equal(t, ErrorTypeCancelled, e.Type)
	assert.ErrorIs(t, e, context.Canceled)

	e = Classify(context.DeadlineExceeded)
	assert.Equal(t, ErrorTypeCancelled, e.Type)

	e = Classify(stderrors.New("boom"))
	assert.Equal(t, ErrorTypeUnknown, e.Type)

	orig := Wrap(ErrorTypeDriver, "eval failed", stderrors.New("target closed"))
	assert.Same(t, orig, Classify(orig))
	assert.Equal(t, "driver: eval failed: target closed", orig.Error())
}
