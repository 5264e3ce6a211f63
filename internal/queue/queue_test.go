package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type frame struct {
	tag  byte
	data string
}

func TestQueue(t *testing.T) {
	assert := assert.New(t)

	t.Run("Empty Queue", func(t *testing.T) {
		q := New[*frame](1)

		assert.True(q.IsEmpty())
		assert.Equal(0, q.Length())

		item, ok := q.Dequeue()
		assert.False(ok)
		assert.Nil(item)

		item, ok = q.Peek()
		assert.False(ok)
		assert.Nil(item)
	})

	t.Run("Enqueue and Dequeue", func(t *testing.T) {
		q := New[*frame](1)

		item1 := &frame{tag: 0xA0, data: "data1"}
		item2 := &frame{tag: 0xA1, data: "data2"}
		q.Enqueue(item1)
		q.Enqueue(item2)
		assert.Equal(2, q.Length())

		got, ok := q.Dequeue()
		assert.True(ok)
		assert.Equal(item1, got)

		got, ok = q.Dequeue()
		assert.True(ok)
		assert.Equal(item2, got)

		_, ok = q.Dequeue()
		assert.False(ok)
		assert.True(q.IsEmpty())
	})

	t.Run("Peek", func(t *testing.T) {
		q := New[frame](1)
		q.Enqueue(frame{tag: 0x81})

		got, ok := q.Peek()
		assert.True(ok)
		assert.Equal(byte(0x81), got.tag)
		assert.Equal(1, q.Length())
	})

	t.Run("Reset", func(t *testing.T) {
		q := New[int](4)
		for i := range 10 {
			q.Enqueue(i)
		}

		q.Reset()
		assert.True(q.IsEmpty())

		q.Enqueue(42)
		got, ok := q.Dequeue()
		assert.True(ok)
		assert.Equal(42, got)
	})
}
