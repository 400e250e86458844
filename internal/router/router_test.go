package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapLiveness backs the Liveness interface with a plain set for tests.
type mapLiveness map[string]bool

func (m mapLiveness) IsLive(sessionID string) bool { return m[sessionID] }

func TestSelectSingleProvider(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(Record{Name: "lookup", Kind: KindAction, SessionID: "a", Weight: 1.0}))

	d, err := r.Select("lookup", KindAction, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", d.SessionID)
	assert.Equal(t, "sole live provider", d.Reason)
}

func TestSelectHighestWeight(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(Record{Name: "lookup", Kind: KindAction, SessionID: "a", Weight: 1.0}))
	require.NoError(t, r.Register(Record{Name: "lookup", Kind: KindAction, SessionID: "b", Weight: 2.0}))

	for i := 0; i < 10; i++ {
		d, err := r.Select("lookup", KindAction, nil)
		require.NoError(t, err)
		assert.Equal(t, "b", d.SessionID, "w1 > w2 must always pick the w1 session")
	}
}

func TestSelectEqualWeightDeterministicTieBreak(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(Record{Name: "lookup", Kind: KindAction, SessionID: "zeta", Weight: 1.0}))
	require.NoError(t, r.Register(Record{Name: "lookup", Kind: KindAction, SessionID: "alpha", Weight: 1.0}))

	for i := 0; i < 10; i++ {
		d, err := r.Select("lookup", KindAction, nil)
		require.NoError(t, err)
		assert.Equal(t, "alpha", d.SessionID, "ties break to the lowest session id")
	}
}

func TestSelectTagFiltering(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(Record{Name: "lookup", Kind: KindAction, SessionID: "a", Weight: 5.0, Tags: []string{"fast"}}))
	require.NoError(t, r.Register(Record{Name: "lookup", Kind: KindAction, SessionID: "b", Weight: 1.0, Tags: []string{"fast", "gpu"}}))

	d, err := r.Select("lookup", KindAction, []string{"gpu"})
	require.NoError(t, err)
	assert.Equal(t, "b", d.SessionID, "tag filter applies before weight comparison")

	_, err = r.Select("lookup", KindAction, []string{"tpu"})
	var noProvider *NoProviderError
	require.ErrorAs(t, err, &noProvider)
}

func TestSelectFailoverScenario(t *testing.T) {
	// Sessions A (weight 1.0) and B (weight 2.0) both offer "lookup".
	live := mapLiveness{"a": true, "b": true}
	r := New(live)
	require.NoError(t, r.Register(Record{Name: "lookup", Kind: KindAction, SessionID: "a", Weight: 1.0}))
	require.NoError(t, r.Register(Record{Name: "lookup", Kind: KindAction, SessionID: "b", Weight: 2.0}))

	d, err := r.Select("lookup", KindAction, nil)
	require.NoError(t, err)
	assert.Equal(t, "b", d.SessionID)

	// Stop B.
	live["b"] = false
	r.UnregisterSession("b")
	d, err = r.Select("lookup", KindAction, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", d.SessionID)

	// Stop A.
	live["a"] = false
	r.UnregisterSession("a")
	_, err = r.Select("lookup", KindAction, nil)
	var noProvider *NoProviderError
	require.ErrorAs(t, err, &noProvider)
}

func TestSelectSkipsDeadSessions(t *testing.T) {
	live := mapLiveness{"a": true, "b": false}
	r := New(live)
	require.NoError(t, r.Register(Record{Name: "lookup", Kind: KindAction, SessionID: "a", Weight: 1.0}))
	require.NoError(t, r.Register(Record{Name: "lookup", Kind: KindAction, SessionID: "b", Weight: 9.0}))

	d, err := r.Select("lookup", KindAction, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", d.SessionID, "a dead session never routes, regardless of weight")
}

func TestUnregisterSessionRemovesAllRecords(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(Record{Name: "t1", Kind: KindAction, SessionID: "a"}))
	require.NoError(t, r.Register(Record{Name: "p1", Kind: KindPrompt, SessionID: "a"}))
	require.NoError(t, r.Register(Record{Name: "file:///data", Kind: KindResource, SessionID: "a"}))
	require.NoError(t, r.Register(Record{Name: "t1", Kind: KindAction, SessionID: "b"}))

	removed := r.UnregisterSession("a")
	assert.Equal(t, 3, removed)

	d, err := r.Select("t1", KindAction, nil)
	require.NoError(t, err)
	assert.Equal(t, "b", d.SessionID)

	_, err = r.Select("p1", KindPrompt, nil)
	var noProvider *NoProviderError
	require.ErrorAs(t, err, &noProvider)
}

func TestRegisterReplacesSameSession(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(Record{Name: "t1", Kind: KindAction, SessionID: "a", Weight: 1.0}))
	require.NoError(t, r.Register(Record{Name: "t1", Kind: KindAction, SessionID: "a", Weight: 3.0}))

	records := r.List(KindAction, "a")
	require.Len(t, records, 1)
	assert.Equal(t, 3.0, records[0].Weight)
}

func TestRegisterValidation(t *testing.T) {
	r := New(nil)
	assert.Error(t, r.Register(Record{Kind: KindAction, SessionID: "a"}))
	assert.Error(t, r.Register(Record{Name: "t", Kind: KindAction}))
	assert.Error(t, r.Register(Record{Name: "t", Kind: "widget", SessionID: "a"}))
}

func TestListSortedAndFiltered(t *testing.T) {
	live := mapLiveness{"a": true, "b": true, "c": false}
	r := New(live)
	require.NoError(t, r.Register(Record{Name: "beta", Kind: KindAction, SessionID: "b"}))
	require.NoError(t, r.Register(Record{Name: "alpha", Kind: KindAction, SessionID: "a"}))
	require.NoError(t, r.Register(Record{Name: "alpha", Kind: KindAction, SessionID: "b"}))
	require.NoError(t, r.Register(Record{Name: "gamma", Kind: KindAction, SessionID: "c"}))

	all := r.List(KindAction, "")
	require.Len(t, all, 3, "records of dead sessions are not listed")
	assert.Equal(t, "alpha", all[0].Name)
	assert.Equal(t, "a", all[0].SessionID)
	assert.Equal(t, "alpha", all[1].Name)
	assert.Equal(t, "b", all[1].SessionID)
	assert.Equal(t, "beta", all[2].Name)

	onlyB := r.List(KindAction, "b")
	require.Len(t, onlyB, 2)
}
