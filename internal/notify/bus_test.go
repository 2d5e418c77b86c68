package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestReadRetryDelay(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		delay time.Duration
		done  bool
	}{
		{"cancelled", context.Canceled, 0, true},
		{"deadline", context.DeadlineExceeded, 0, true},
		{"empty block", redis.Nil, 0, false},
		{"connection refused", errors.New("dial tcp 127.0.0.1:6379: connect: connection refused"), readBackoff, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delay, done := readRetryDelay(tt.err)
			if delay != tt.delay || done != tt.done {
				t.Errorf("readRetryDelay(%v) = (%v, %v), want (%v, %v)",
					tt.err, delay, done, tt.delay, tt.done)
			}
		})
	}
}
