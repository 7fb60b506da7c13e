// ABOUTME: Tests for the registration state machine
// ABOUTME: Covers the retry budget, idempotence, reset, fallback and concurrent callers

package registration

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentlens/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePoster returns queued responses in order, repeating the last one.
type fakePoster struct {
	mu        sync.Mutex
	responses []fakeResponse
	calls     int
	paths     []string
	bodies    []any
	delay     time.Duration
}

type fakeResponse struct {
	body map[string]any
	ok   bool
}

func (f *fakePoster) Post(ctx context.Context, path string, body any) (map[string]any, bool) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.paths = append(f.paths, path)
	f.bodies = append(f.bodies, body)
	if len(f.responses) == 0 {
		return nil, false
	}
	idx := f.calls - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return f.responses[idx].body, f.responses[idx].ok
}

func (f *fakePoster) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func success(id string) fakeResponse {
	return fakeResponse{body: map[string]any{"agent_id": id}, ok: true}
}

func failure() fakeResponse {
	return fakeResponse{ok: false}
}

func testRequest() Request {
	return Request{Name: "gw", Type: "openclaw", Metadata: Metadata{Workspace: "/srv"}}
}

func TestRegister_Success(t *testing.T) {
	poster := &fakePoster{responses: []fakeResponse{success("ag_1")}}
	r := New(poster, testRequest(), 3, testLogger())

	assert.Equal(t, Unregistered, r.State())
	require.True(t, r.Register(context.Background()))

	id, ok := r.AgentID()
	assert.True(t, ok)
	assert.Equal(t, "ag_1", id)
	assert.Equal(t, Registered, r.State())
	assert.Equal(t, []string{transport.PathRegister}, poster.paths)

	body, ok := poster.bodies[0].(Request)
	require.True(t, ok)
	assert.Equal(t, "gw", body.Name)
	assert.Equal(t, "openclaw", body.Type)
	assert.Equal(t, "/srv", body.Metadata.Workspace)
}

func TestRegister_RetryBudgetExhausts(t *testing.T) {
	poster := &fakePoster{responses: []fakeResponse{failure()}}
	r := New(poster, testRequest(), 3, testLogger())
	ctx := context.Background()

	assert.False(t, r.Register(ctx))
	assert.Equal(t, Unregistered, r.State())
	assert.False(t, r.Register(ctx))
	assert.Equal(t, Unregistered, r.State())
	assert.False(t, r.Register(ctx))
	assert.Equal(t, Exhausted, r.State())
	assert.Equal(t, 3, poster.Calls())

	// Fourth call makes no network request.
	assert.False(t, r.Register(ctx))
	assert.False(t, r.EnsureRegistered(ctx))
	assert.Equal(t, 3, poster.Calls())
}

func TestRegister_MalformedResponsesCountAsFailures(t *testing.T) {
	tests := []struct {
		name string
		resp fakeResponse
	}{
		{"missing agent_id", fakeResponse{body: map[string]any{"status": "ok"}, ok: true}},
		{"empty agent_id", fakeResponse{body: map[string]any{"agent_id": ""}, ok: true}},
		{"whitespace agent_id", fakeResponse{body: map[string]any{"agent_id": "  "}, ok: true}},
		{"non-string agent_id", fakeResponse{body: map[string]any{"agent_id": 42.0}, ok: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poster := &fakePoster{responses: []fakeResponse{tt.resp}}
			r := New(poster, testRequest(), 1, testLogger())

			assert.False(t, r.Register(context.Background()))
			assert.Equal(t, Exhausted, r.State())
			_, ok := r.AgentID()
			assert.False(t, ok)
		})
	}
}

func TestRegister_SucceedsAfterFailures(t *testing.T) {
	poster := &fakePoster{responses: []fakeResponse{failure(), failure(), success("ag_late")}}
	r := New(poster, testRequest(), 3, testLogger())
	ctx := context.Background()

	assert.False(t, r.EnsureRegistered(ctx))
	assert.False(t, r.EnsureRegistered(ctx))
	assert.True(t, r.EnsureRegistered(ctx))
	assert.Equal(t, Registered, r.State())
	assert.Equal(t, 3, r.Attempts())
}

func TestEnsureRegistered_Idempotent(t *testing.T) {
	poster := &fakePoster{responses: []fakeResponse{success("ag_1")}}
	r := New(poster, testRequest(), 3, testLogger())
	ctx := context.Background()

	assert.True(t, r.EnsureRegistered(ctx))
	assert.True(t, r.EnsureRegistered(ctx))
	assert.True(t, r.Register(ctx))
	assert.Equal(t, 1, poster.Calls())
}

func TestEnsureRegistered_ConcurrentCallersRegisterOnce(t *testing.T) {
	poster := &fakePoster{responses: []fakeResponse{success("ag_1")}, delay: 20 * time.Millisecond}
	r := New(poster, testRequest(), 3, testLogger())

	var wg sync.WaitGroup
	results := make([]bool, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.EnsureRegistered(context.Background())
		}(i)
	}
	wg.Wait()

	for _, ok := range results {
		assert.True(t, ok)
	}
	assert.Equal(t, 1, poster.Calls())
}

func TestReset_AllowsRetryAfterExhaustion(t *testing.T) {
	poster := &fakePoster{responses: []fakeResponse{failure(), success("ag_2")}}
	r := New(poster, testRequest(), 1, testLogger())
	ctx := context.Background()

	assert.False(t, r.Register(ctx))
	assert.Equal(t, Exhausted, r.State())

	r.Reset()
	assert.Equal(t, Unregistered, r.State())
	assert.Equal(t, 0, r.Attempts())

	assert.True(t, r.Register(ctx))
	id, _ := r.AgentID()
	assert.Equal(t, "ag_2", id)
}

func TestReset_KeepsIdentity(t *testing.T) {
	poster := &fakePoster{responses: []fakeResponse{success("ag_1")}}
	r := New(poster, testRequest(), 3, testLogger())
	require.True(t, r.Register(context.Background()))

	r.Reset()

	assert.Equal(t, Registered, r.State())
	id, ok := r.AgentID()
	assert.True(t, ok)
	assert.Equal(t, "ag_1", id)
}

func TestScheduleFallback_ConsumesAttempt(t *testing.T) {
	poster := &fakePoster{responses: []fakeResponse{failure()}}
	r := New(poster, testRequest(), 3, testLogger())

	r.ScheduleFallback(context.Background(), 10*time.Millisecond)

	require.Eventually(t, func() bool { return poster.Calls() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, r.Attempts())
}

func TestScheduleFallback_NoopWhenRegistered(t *testing.T) {
	poster := &fakePoster{responses: []fakeResponse{success("ag_1")}}
	r := New(poster, testRequest(), 3, testLogger())
	require.True(t, r.Register(context.Background()))

	r.ScheduleFallback(context.Background(), 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 1, poster.Calls())
}

func TestStopFallback(t *testing.T) {
	poster := &fakePoster{responses: []fakeResponse{success("ag_1")}}
	r := New(poster, testRequest(), 3, testLogger())

	r.ScheduleFallback(context.Background(), 20*time.Millisecond)
	r.StopFallback()
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, poster.Calls())
	assert.Equal(t, Unregistered, r.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unregistered", Unregistered.String())
	assert.Equal(t, "registering", Registering.String())
	assert.Equal(t, "registered", Registered.String())
	assert.Equal(t, "exhausted", Exhausted.String())
	assert.Equal(t, "unknown", State(99).String())
}
