package util

import (
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCloser struct {
	name  string
	order *[]string
	mu    *sync.Mutex
	err   error
}

func (c *recordingCloser) Close() error {
	c.mu.Lock()
	*c.order = append(*c.order, c.name)
	c.mu.Unlock()
	return c.err
}

// TestCloseAllReverseOrder verifies closers run last-registered first and
// errors are reported without stopping the remaining closers.
func TestCloseAllReverseOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	boom := errors.New("boom")
	RegisterCloser("transport", &recordingCloser{name: "transport", order: &order, mu: &mu})
	RegisterCloser("environment", &recordingCloser{name: "environment", order: &order, mu: &mu, err: boom})
	RegisterCloser("manager", &recordingCloser{name: "manager", order: &order, mu: &mu})

	err := CloseAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"manager", "environment", "transport"}, order)

	assert.NoError(t, CloseAll(), "second CloseAll has nothing to close")
}

func TestUserHomeReturnsExistingPath(t *testing.T) {
	home := UserHome()
	require.NotEmpty(t, home)
	_, err := os.Stat(home)
	assert.NoError(t, err)
}

func TestAssertf(t *testing.T) {
	assert.NotPanics(t, func() { Assertf(true, "never") })
	assert.PanicsWithValue(t, "invariant violated: seq 3 delivered twice", func() {
		Assertf(false, "seq %d delivered twice", 3)
	})
	assert.PanicsWithValue(t, "plain", func() { Panicf("plain") })
}
