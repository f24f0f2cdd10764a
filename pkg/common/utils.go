// Copyright 2020-2022 JackTrip Labs, Inc.
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

// Package common holds small helpers used by cmd/rnbo-runner: an
// exponential-backoff retry loop and a jack_wait-style
// "block until jackd is reachable" helper, both adapted from the teacher's
// WaitForJackd/RetryWithBackoff pair (pkg/common/utils.go), which the teacher
// used to wait for the JACK server before opening its own mixing client.
// cmd/rnbo-runner calls WaitForJackd before constructing the audio host for
// the same reason.
package common

import (
	"math"
	"math/rand"
	"time"

	"github.com/xthexder/go-jack"
)

const (
	// RetryMaxAttempts sets the maximum number of attempts when retrying
	RetryMaxAttempts = 10

	// RetryBackoffFactor sets the exponential backoff factor on wait duration
	RetryBackoffFactor = 2

	// RetryBackoffMax sets the maximum wait duration between retry attempts
	RetryBackoffMax = 10000 // milliseconds
)

func exponentialBackoffSleep(iteration int) {
	desired := int(math.Pow(float64(iteration+1), float64(RetryBackoffFactor)))
	actual := RetryBackoffMax
	if desired*1000 < RetryBackoffMax {
		actual = desired * 1000
	}
	jitter := rand.Intn(1000)
	time.Sleep(time.Duration(actual+jitter) * time.Millisecond)
}

// RetryWithBackoff implements a retry-loop with an exponential backoff algorithm
func RetryWithBackoff(run func() error) error {
	for i := 0; i < RetryMaxAttempts; i++ {
		err := run()
		if err != nil {
			if i < RetryMaxAttempts-1 {
				exponentialBackoffSleep(i)
				continue
			}
			return err
		}
		break
	}
	return nil
}

// Max returns the maximum of two integers
func Max(a, b int) int {
	if a < b {
		return b
	}
	return a
}

// InitJackClient opens and immediately closes a throwaway JACK client, used
// only as a reachability probe by WaitForJackd.
func InitJackClient(name string) error {
	client, code := jack.ClientOpen(name, jack.NoStartServer)
	if client == nil || code != 0 {
		return jack.StrError(code)
	}
	return client.Close()
}

// WaitForJackd is a jack_wait reimplementation: it blocks, retrying with
// backoff, until a JACK server accepts client connections. cmd/rnbo-runner
// calls this before constructing the audio host so activation doesn't fail
// on a server that is still starting.
func WaitForJackd() error {
	return RetryWithBackoff(func() error {
		return InitJackClient("rnbo-wait")
	})
}
