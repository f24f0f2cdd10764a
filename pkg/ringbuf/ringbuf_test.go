package ringbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPushPopOrder(t *testing.T) {
	r := New(4)
	for i := 0; i < 4; i++ {
		assert.True(t, r.Push(Event{Data0: byte(i)}))
	}
	for i := 0; i < 4; i++ {
		e, ok := r.Pop()
		assert.True(t, ok)
		assert.EqualValues(t, i, e.Data0)
	}
	_, ok := r.Pop()
	assert.False(t, ok)
}

func TestPushDropsWhenFull(t *testing.T) {
	r := New(2)
	assert.True(t, r.Push(Event{}))
	assert.True(t, r.Push(Event{}))
	assert.False(t, r.Push(Event{}))
	assert.EqualValues(t, 1, r.Dropped())
}

func TestDrainVisitsInOrder(t *testing.T) {
	r := New(4)
	r.Push(Event{Data0: 1})
	r.Push(Event{Data0: 2})
	r.Push(Event{Data0: 3})

	var seen []byte
	r.Drain(func(e Event) { seen = append(seen, e.Data0) })
	assert.Equal(t, []byte{1, 2, 3}, seen)

	_, ok := r.Pop()
	assert.False(t, ok)
}

func TestNewRoundsUpToPowerOfTwo(t *testing.T) {
	r := New(3)
	assert.Len(t, r.buf, 4)
}
