package signaling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelatorResolvesSuccessExactlyOnce(t *testing.T) {
	c := NewCorrelator()
	successes, errors := 0, 0
	id := c.Create(func(Incoming) { successes++ }, func(ErrorData) { errors++ }, 0)

	require.Len(t, id, txnIDLength)
	assert.Equal(t, 1, c.Outstanding())

	assert.True(t, c.Resolve(id, false, Incoming{Kind: KindSuccess, ID: 42}))
	assert.Equal(t, 1, successes)
	assert.Equal(t, 0, errors)
	assert.Equal(t, 0, c.Outstanding())

	// A second resolution of the same id is a no-op.
	assert.False(t, c.Resolve(id, false, Incoming{}))
	assert.False(t, c.Resolve(id, true, Incoming{}))
	assert.Equal(t, 1, successes)
	assert.Equal(t, 0, errors)
}

func TestCorrelatorResolvesError(t *testing.T) {
	c := NewCorrelator()
	var got ErrorData
	id := c.Create(func(Incoming) { t.Fatal("success must not fire") }, func(e ErrorData) { got = e }, 0)

	c.Resolve(id, true, Incoming{Kind: KindError, Err: ErrorData{Code: 458, Reason: "No such room"}})
	assert.Equal(t, ErrorData{Code: 458, Reason: "No such room"}, got)
	assert.Equal(t, 0, c.Outstanding())
}

func TestCorrelatorUnknownIDIsNoop(t *testing.T) {
	c := NewCorrelator()
	assert.False(t, c.Resolve("nosuchtxn", false, Incoming{}))
}

func TestCorrelatorDeadline(t *testing.T) {
	c := NewCorrelator()
	errs := make(chan ErrorData, 1)
	id := c.Create(func(Incoming) { t.Error("success must not fire") }, func(e ErrorData) { errs <- e }, 20*time.Millisecond)

	select {
	case e := <-errs:
		assert.Equal(t, CodeTimeout, e.Code)
	case <-time.After(time.Second):
		t.Fatal("deadline never fired")
	}
	// The entry is gone; a late response is dropped.
	assert.False(t, c.Resolve(id, false, Incoming{}))
}

func TestCorrelatorResolveStopsDeadline(t *testing.T) {
	c := NewCorrelator()
	errs := make(chan ErrorData, 1)
	id := c.Create(nil, func(e ErrorData) { errs <- e }, 20*time.Millisecond)

	require.True(t, c.Resolve(id, false, Incoming{}))
	select {
	case <-errs:
		t.Fatal("deadline fired after resolution")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestCorrelatorFailAll(t *testing.T) {
	c := NewCorrelator()
	var got []ErrorData
	for i := 0; i < 3; i++ {
		c.Create(nil, func(e ErrorData) { got = append(got, e) }, 0)
	}

	c.FailAll(ErrorData{Code: CodeDisconnected, Reason: "transport disconnected"})
	require.Len(t, got, 3)
	for _, e := range got {
		assert.Equal(t, CodeDisconnected, e.Code)
	}
	assert.Equal(t, 0, c.Outstanding())
}

func TestCorrelatorDiscard(t *testing.T) {
	c := NewCorrelator()
	id := c.Create(func(Incoming) { t.Error("success must not fire") }, func(ErrorData) { t.Error("error must not fire") }, 0)

	c.Discard(id)
	assert.Equal(t, 0, c.Outstanding())
	assert.False(t, c.Resolve(id, false, Incoming{}))
}

func TestTransactionIDsAreFreshAlphanumerics(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id := newTransactionID()
		require.Len(t, id, txnIDLength)
		for _, r := range id {
			assert.Contains(t, txnIDRunes, string(r))
		}
		assert.False(t, seen[id], "duplicate transaction id %q", id)
		seen[id] = true
	}
}
