package common

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMax(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(1, Max(1, 1))
	assert.Equal(3, Max(1, 3))
	assert.Equal(3, Max(3, 1))
	assert.Equal(5, Max(5, 2))
	assert.Equal(5, Max(2, 5))
	assert.Equal(1, Max(0, 1))
	assert.Equal(1, Max(1, 0))
}

func TestRetryWithBackoffSucceedsEventually(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(func() error {
		attempts++
		if attempts < 2 {
			return errors.New("not yet")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryWithBackoffGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(func() error {
		attempts++
		return errors.New("always fails")
	})
	assert.Error(t, err)
	assert.Equal(t, RetryMaxAttempts, attempts)
}
