package publisher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      Kind
		retryable bool
	}{
		{"deadline", context.DeadlineExceeded, KindTransient, true},
		{"wrapped deadline", fmt.Errorf("upload: %w", context.DeadlineExceeded), KindTransient, true},
		{"net", &net.OpError{Op: "dial", Err: errors.New("refused")}, KindTransient, true},
		{"unknown", errors.New("boom"), KindTransient, true},
		{"auth", AuthError("x", "190", "expired"), KindAuth, false},
		{"wrapped permanent", fmt.Errorf("publish: %w", PermanentError("x", "400", "rejected")), KindPermanent, false},
		{"rate limit", RateLimitError("x", "429", "slow down", time.Minute), KindRateLimit, true},
		{"configuration", ConfigurationError("x", "mismatch", "wrong account"), KindConfiguration, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Classify(tt.err)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.retryable, e.Retryable())
		})
	}

	assert.Nil(t, Classify(nil))
}

func TestClassifyStatus(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "30")

	assert.Equal(t, KindAuth, classifyStatus("x", 401, nil, "").Kind)
	assert.Equal(t, KindAuth, classifyStatus("x", 403, nil, "").Kind)
	assert.Equal(t, KindTransient, classifyStatus("x", 503, nil, "").Kind)
	assert.Equal(t, KindPermanent, classifyStatus("x", 422, nil, "").Kind)

	e := classifyStatus("x", 429, h, "")
	assert.Equal(t, KindRateLimit, e.Kind)
	assert.Equal(t, 30*time.Second, e.RetryAfter)
}

func TestClassifySDKError(t *testing.T) {
	assert.Equal(t, KindAuth, classifySDKError("reddit", errors.New("httpStatusCode=403 forbidden")).Kind)
	assert.Equal(t, KindRateLimit, classifySDKError("twitter", errors.New("Too Many Requests")).Kind)
	assert.Equal(t, KindPermanent, classifySDKError("twitter", errors.New("status 400: duplicate content")).Kind)
	assert.Equal(t, KindTransient, classifySDKError("medium", errors.New("connection reset")).Kind)
}
