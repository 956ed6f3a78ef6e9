package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakeSink records everything enqueued to it. failing sinks reject every
// enqueue the way a full send buffer would.
type fakeSink struct {
	id      string
	frames  [][]byte
	failing bool
}

func (f *fakeSink) ID() string { return f.id }

func (f *fakeSink) Enqueue(data []byte) error {
	if f.failing {
		return ErrSlowConsumer
	}
	f.frames = append(f.frames, data)
	return nil
}

func TestIndexJoinIdempotent(t *testing.T) {
	x := NewRoomIndex()
	a := &fakeSink{id: "a"}

	x.Join("room-1", a)
	x.Join("room-1", a)
	assert.Equal(t, 1, x.Size("room-1"))
}

func TestIndexTargetsExcludeSelf(t *testing.T) {
	x := NewRoomIndex()
	a := &fakeSink{id: "a"}
	b := &fakeSink{id: "b"}
	c := &fakeSink{id: "c"}
	x.Join("room-1", a)
	x.Join("room-1", b)
	x.Join("room-1", c)

	targets := x.Targets("room-1", "a")
	assert.Len(t, targets, 2)
	for _, s := range targets {
		assert.NotEqual(t, "a", s.ID())
	}

	// excluding an id that is not in the room excludes nobody
	assert.Len(t, x.Targets("room-1", "z"), 3)
}

func TestIndexNoCrossRoomLeakage(t *testing.T) {
	x := NewRoomIndex()
	a := &fakeSink{id: "a"}
	b := &fakeSink{id: "b"}
	x.Join("room-1", a)
	x.Join("room-2", b)

	targets := x.Targets("room-1", "")
	assert.Len(t, targets, 1)
	assert.Equal(t, "a", targets[0].ID())
}

func TestIndexLeave(t *testing.T) {
	x := NewRoomIndex()
	a := &fakeSink{id: "a"}
	b := &fakeSink{id: "b"}
	x.Join("room-1", a)
	x.Join("room-1", b)

	x.Leave("room-1", a)
	assert.Equal(t, 1, x.Size("room-1"))
	assert.True(t, x.Contains("room-1"))

	// leaving twice is a no-op
	x.Leave("room-1", a)
	assert.Equal(t, 1, x.Size("room-1"))

	// empty rooms are evicted
	x.Leave("room-1", b)
	assert.False(t, x.Contains("room-1"))
	assert.Nil(t, x.Targets("room-1", ""))
}

func TestIndexUnknownRoom(t *testing.T) {
	x := NewRoomIndex()
	assert.Equal(t, 0, x.Size("nope"))
	assert.False(t, x.Contains("nope"))
	assert.Nil(t, x.Targets("nope", ""))
	x.Leave("nope", &fakeSink{id: "a"})
}
