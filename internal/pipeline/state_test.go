package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateIngested, StateVerifying, true},
		{StateIngested, StateAnalyzing, false},
		{StateVerified, StateAnalyzing, true},
		{StateExplained, StateReported, true},
		{StateExplained, StateDiffing, true},
		{StateDiffing, StateReported, true},
		{StateAnalyzed, StateReported, false},
		{StateAnalyzing, StateFailed, true},
		{StateReported, StateFailed, false},
		{StateFailed, StateVerifying, false},
		{StateVerifying, StateVerifying, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestParseState(t *testing.T) {
	s, err := ParseState("REPORTED")
	require.NoError(t, err)
	assert.True(t, s.Terminal())
	_, err = ParseState("DONE")
	require.Error(t, err)
}

func TestEventLogStream(t *testing.T) {
	l := newEventLog()
	for _, st := range []State{StateIngested, StateVerifying, StateVerified} {
		l.append(Event{Stage: st})
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := l.stream(ctx, 1)

	got := <-ch
	assert.Equal(t, 2, got.Seq)
	assert.Equal(t, StateVerifying, got.Stage)
	assert.Equal(t, 3, (<-ch).Seq)

	go func() {
		time.Sleep(10 * time.Millisecond)
		l.append(Event{Stage: StateAnalyzing})
		l.close()
		l.append(Event{Stage: StateAnalyzed})
	}()
	assert.Equal(t, StateAnalyzing, (<-ch).Stage)
	_, open := <-ch
	assert.False(t, open)

	evs, closed, _ := l.since(0)
	assert.Len(t, evs, 4)
	assert.True(t, closed)
}

func TestEventLogStreamStopsOnContext(t *testing.T) {
	l := newEventLog()
	ctx, cancel := context.WithCancel(context.Background())
	ch := l.stream(ctx, 0)
	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestLeases(t *testing.T) {
	l := newLeases()
	id, err := l.acquire("local:T", "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", id)
	id, err = l.acquire("local:T", "r2")
	require.Error(t, err)
	assert.Equal(t, "r1", id)

	l.release("local:T", "r2")
	holder, ok := l.holder("local:T")
	assert.True(t, ok)
	assert.Equal(t, "r1", holder)

	l.release("local:T", "r1")
	_, ok = l.holder("local:T")
	assert.False(t, ok)
}

func TestRefIdentity(t *testing.T) {
	assert.Equal(t, "local:Token", Ref{Name: "Token", ArtifactIDs: []string{"a"}}.Identity())
	a := Ref{ArtifactIDs: []string{"sha256:1", "sha256:2"}}.Identity()
	b := Ref{ArtifactIDs: []string{"sha256:2", "sha256:1"}}.Identity()
	assert.Equal(t, a, b)
	assert.Contains(t, a, "upload:")
	assert.Empty(t, Ref{}.Identity())
	assert.Contains(t, Ref{Address: "0xAbC0000000000000000000000000000000000001"}.Identity(), "chain:1:")
}
