package tabs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanupRegistry_LastWriterWins(t *testing.T) {
	r := NewCleanupRegistry()

	var ran string
	r.Register("t1", func() error { ran = "first"; return nil })
	r.Register("t1", func() error { ran = "second"; return nil })
	assert.Equal(t, 1, r.Len())

	r.Run("t1")
	assert.Equal(t, "second", ran)
}

func TestCleanupRegistry_RunInvokesOnceThenRemoves(t *testing.T) {
	r := NewCleanupRegistry()

	count := 0
	r.Register("t1", func() error { count++; return nil })

	r.Run("t1")
	r.Run("t1")
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, r.Len())
}

func TestCleanupRegistry_RunUnknownIsNoop(t *testing.T) {
	r := NewCleanupRegistry()
	r.Run("absent")
}

func TestCleanupRegistry_ErrorSwallowed(t *testing.T) {
	r := NewCleanupRegistry()
	r.Register("t1", func() error { return errors.New("boom") })

	r.Run("t1")
	assert.Equal(t, 0, r.Len())
}

func TestCleanupRegistry_Remove(t *testing.T) {
	r := NewCleanupRegistry()

	ran := false
	r.Register("t1", func() error { ran = true; return nil })
	r.Remove("t1")

	r.Run("t1")
	assert.False(t, ran)
}
