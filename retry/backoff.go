// Copyright (c) 2026 - The Message Bus authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package retry

import (
	"sync"
	"time"

	"github.com/jpillora/backoff"
)

// Backoff is a policy for the delay between two attempts. Attempt is the
// number of the attempt that just failed, starting at 1.
type Backoff interface {
	Duration(attempt int) time.Duration
}

// BackoffFunc is a function that can be used as a backoff policy.
type BackoffFunc func(attempt int) time.Duration

// Duration implements the Duration method of the Backoff interface.
func (f BackoffFunc) Duration(attempt int) time.Duration {
	return f(attempt)
}

// ConstantBackoff waits the same delay between all attempts.
func ConstantBackoff(delay time.Duration) Backoff {
	if delay < 0 {
		delay = 0
	}

	return BackoffFunc(func(int) time.Duration {
		return delay
	})
}

// ExponentialBackoff waits exponentially longer between attempts, from min up
// to max, optionally with jitter.
func ExponentialBackoff(min, max time.Duration, factor float64, jitter bool) Backoff {
	return &exponential{
		b: &backoff.Backoff{
			Min:    min,
			Max:    max,
			Factor: factor,
			Jitter: jitter,
		},
	}
}

type exponential struct {
	// The backoff.Backoff methods are not safe for concurrent use.
	mu sync.Mutex
	b  *backoff.Backoff
}

// Duration implements the Duration method of the Backoff interface.
func (e *exponential) Duration(attempt int) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.b.ForAttempt(float64(attempt - 1))
}
