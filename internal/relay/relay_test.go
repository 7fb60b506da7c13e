// ABOUTME: End-to-end tests for the relay against a fake collector
// ABOUTME: Covers turn correlation, registration gating, config sync payloads, dedupe and shutdown

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentlens/internal/config"
	"github.com/2389/agentlens/internal/hooks"
	"github.com/2389/agentlens/internal/registration"
	"github.com/2389/agentlens/internal/sanitize"
	"github.com/2389/agentlens/internal/transcript"
)

type request struct {
	path string
	auth string
	body map[string]any
}

// fakeCollector records every request and answers registration with an id.
type fakeCollector struct {
	mu           sync.Mutex
	requests     []request
	failRegister bool
	srv          *httptest.Server
}

func newFakeCollector(t *testing.T) *fakeCollector {
	t.Helper()
	fc := &fakeCollector{}
	fc.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body := map[string]any{}
		_ = json.Unmarshal(raw, &body)

		fc.mu.Lock()
		fc.requests = append(fc.requests, request{path: r.URL.Path, auth: r.Header.Get("Authorization"), body: body})
		failRegister := fc.failRegister
		fc.mu.Unlock()

		if r.URL.Path == "/agents/register" {
			if failRegister {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte(`{"agent_id":"agent-1"}`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(fc.srv.Close)
	return fc
}

func (fc *fakeCollector) byPath(path string) []request {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	var out []request
	for _, r := range fc.requests {
		if r.path == path {
			out = append(out, r)
		}
	}
	return out
}

func (fc *fakeCollector) events() []map[string]any {
	var out []map[string]any
	for _, r := range fc.byPath("/events") {
		out = append(out, r.body)
	}
	return out
}

func testConfig(endpoint string) *config.Config {
	cfg := &config.Config{
		Collector: config.CollectorConfig{Endpoint: endpoint, APIKey: "alk_test_key"},
		Agent:     config.AgentConfig{Name: "test-gw", Workspace: "/srv/agent"},
	}
	cfg.Sync.Interval = time.Hour
	cfg.Sync.RegisterFallbackDelay = time.Hour
	cfg.ApplyDefaults()
	return cfg
}

func newTestRelay(t *testing.T, fc *fakeCollector, source sanitize.Source) *Relay {
	t.Helper()
	r, err := New(Options{
		Config:  testConfig(fc.srv.URL),
		Source:  source,
		Version: "test",
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return r
}

func msg(role string, blocks ...transcript.Block) transcript.Message {
	return transcript.Message{Role: role, Content: transcript.BlockContent(blocks...)}
}

func textBlock(s string) transcript.Block { return transcript.Block{"type": "text", "text": s} }

func toolCallBlock(id, name string, args map[string]any) transcript.Block {
	return transcript.Block{"type": "toolCall", "id": id, "name": name, "arguments": args}
}

func meta(session string) hooks.Meta {
	return hooks.Meta{SessionKey: session, Time: time.Now()}
}

func eventData(ev map[string]any) map[string]any {
	d, _ := ev["data"].(map[string]any)
	return d
}

func TestNew_RejectsBadCredential(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")

	cfg.Collector.APIKey = ""
	_, err := New(Options{Config: cfg})
	assert.ErrorIs(t, err, config.ErrMissingAPIKey)

	cfg.Collector.APIKey = "sk-not-ours"
	_, err = New(Options{Config: cfg})
	assert.ErrorIs(t, err, config.ErrInvalidAPIKey)

	_, err = New(Options{})
	assert.Error(t, err)
}

func TestTurn_SharesTraceAndDedupes(t *testing.T) {
	fc := newFakeCollector(t)
	r := newTestRelay(t, fc, nil)
	ctx := context.Background()
	args := map[string]any{"path": "README.md"}

	r.MessageReceived(ctx, meta("s1"), hooks.MessageReceivedData{From: "alice", Content: transcript.TextContent("summarize the readme")})
	r.AfterToolCall(ctx, meta("s1"), hooks.ToolCallData{ToolName: "read", ToolCallID: "call_1", Params: args, Result: "# Title", DurationMs: 7})
	r.AgentEnd(ctx, meta("s1"), hooks.AgentEndData{
		Success: true,
		Messages: []transcript.Message{
			msg(transcript.RoleUser, textBlock("summarize the readme")),
			msg(transcript.RoleAssistant, textBlock("let me look"), toolCallBlock("call_1", "read", args)),
			msg(transcript.RoleUser, transcript.Block{"type": "toolResult", "content": "# Title"}),
			msg(transcript.RoleAssistant, textBlock("It is a title.")),
		},
		Usage: &transcript.Usage{Input: 100, Output: 20, Total: 120},
		Model: "claude",
	})
	r.wg.Wait()

	events := fc.events()
	require.Len(t, events, 4, "user message, live tool call, reply, usage")

	traceID := eventData(events[0])["trace_id"]
	require.NotEmpty(t, traceID)

	counts := map[string]int{}
	for _, ev := range events {
		assert.Equal(t, "agent-1", ev["agent_id"])
		assert.Equal(t, "s1", ev["session_id"])
		assert.Equal(t, traceID, eventData(ev)["trace_id"])
		counts[ev["type"].(string)]++

		if ev["type"] == "message" && eventData(ev)["role"] == "assistant" {
			assert.Equal(t, "It is a title.", eventData(ev)["content"])
			assert.Equal(t, float64(1), eventData(ev)["tool_call_count"])
		}
		if ev["type"] == "tool_call" {
			assert.Equal(t, "hook", eventData(ev)["source"])
		}
	}
	assert.Equal(t, map[string]int{"message": 2, "tool_call": 1, "usage": 1}, counts)

	_, open := r.correlator.Current("s1")
	assert.False(t, open, "trace closes at turn end")
	assert.Len(t, fc.byPath("/agents/register"), 1)
}

func TestTurn_NextTurnGetsNewTrace(t *testing.T) {
	fc := newFakeCollector(t)
	r := newTestRelay(t, fc, nil)
	ctx := context.Background()

	for _, text := range []string{"one", "two"} {
		r.MessageReceived(ctx, meta("s1"), hooks.MessageReceivedData{Content: transcript.TextContent(text)})
		r.AgentEnd(ctx, meta("s1"), hooks.AgentEndData{
			Success: true,
			Messages: []transcript.Message{
				msg(transcript.RoleUser, textBlock(text)),
				msg(transcript.RoleAssistant, textBlock("re: "+text)),
			},
		})
	}
	r.wg.Wait()

	traces := map[string]map[any]bool{}
	for _, ev := range fc.events() {
		d := eventData(ev)
		content, _ := d["content"].(string)
		turnName := strings.TrimPrefix(content, "re: ")
		if traces[turnName] == nil {
			traces[turnName] = map[any]bool{}
		}
		traces[turnName][d["trace_id"]] = true
	}

	require.Len(t, traces, 2)
	require.Len(t, traces["one"], 1)
	require.Len(t, traces["two"], 1)
	for a := range traces["one"] {
		assert.False(t, traces["two"][a], "second turn must not reuse the first trace")
	}
}

func TestAutonomousToolCall_OpensTrace(t *testing.T) {
	fc := newFakeCollector(t)
	r := newTestRelay(t, fc, nil)
	ctx := context.Background()

	r.AfterToolCall(ctx, meta(""), hooks.ToolCallData{ToolName: "cron_check", Params: map[string]any{"job": "a"}})
	id, open := r.correlator.Current("")
	require.True(t, open)

	r.AgentEnd(ctx, meta(""), hooks.AgentEndData{
		Success: true,
		Messages: []transcript.Message{
			msg(transcript.RoleAssistant, transcript.Block{"type": "toolCall", "name": "cron_check", "arguments": map[string]any{"job": "a"}}),
			msg(transcript.RoleAssistant, textBlock("job done")),
		},
	})
	r.wg.Wait()

	events := fc.events()
	require.Len(t, events, 2, "tool call without id is still deduped by signature")
	for _, ev := range events {
		assert.Equal(t, "default", ev["session_id"])
		assert.Equal(t, id, eventData(ev)["trace_id"])
	}
	assert.Equal(t, 0, r.correlator.Len())
}

func TestMessageSent_ReconstructedReplySupersedesLive(t *testing.T) {
	fc := newFakeCollector(t)
	r := newTestRelay(t, fc, nil)
	ctx := context.Background()

	r.MessageReceived(ctx, meta("s1"), hooks.MessageReceivedData{Content: transcript.TextContent("hi")})
	r.MessageSent(ctx, meta("s1"), hooks.MessageSentData{To: "alice", Content: "hello!\n", Success: true})
	r.MessageSent(ctx, meta("s1"), hooks.MessageSentData{Content: "   "})
	r.AgentEnd(ctx, meta("s1"), hooks.AgentEndData{
		Success: true,
		Messages: []transcript.Message{
			msg(transcript.RoleUser, textBlock("hi")),
			{
				Role:       transcript.RoleAssistant,
				Content:    transcript.BlockContent(transcript.Block{"type": "thinking", "thinking": "greet back"}, textBlock("hello!")),
				Model:      "m1",
				StopReason: "stop",
			},
		},
	})
	r.wg.Wait()

	replies := map[string]map[string]any{}
	for _, ev := range fc.events() {
		if d := eventData(ev); d["role"] == "assistant" {
			replies[d["source"].(string)] = d
		}
	}
	require.Len(t, replies, 2)

	live := replies["hook"]
	assert.Equal(t, "alice", live["to"])
	assert.Equal(t, "hello!", live["content"])

	full := replies["transcript"]
	assert.Equal(t, "hello!", full["content"])
	assert.Equal(t, "greet back", full["thinking"])
	assert.Equal(t, "m1", full["model"])
	assert.Equal(t, "stop", full["stop_reason"])
	assert.Equal(t, "hook", full["supersedes"])
}

func TestReconstructedReply_NoLiveCopyNotMarked(t *testing.T) {
	fc := newFakeCollector(t)
	r := newTestRelay(t, fc, nil)

	r.AgentEnd(context.Background(), meta("s1"), hooks.AgentEndData{
		Success:  true,
		Messages: []transcript.Message{msg(transcript.RoleUser, textBlock("hi")), msg(transcript.RoleAssistant, textBlock("yo"))},
	})
	r.wg.Wait()

	events := fc.events()
	require.Len(t, events, 1)
	assert.NotContains(t, eventData(events[0]), "supersedes")
}

func TestToolCalls_SameArgsDistinctIDs(t *testing.T) {
	fc := newFakeCollector(t)
	r := newTestRelay(t, fc, nil)
	ctx := context.Background()
	args := map[string]any{"path": "a.txt"}

	r.AfterToolCall(ctx, meta("s1"), hooks.ToolCallData{ToolName: "read", ToolCallID: "id1", Params: args})
	r.AgentEnd(ctx, meta("s1"), hooks.AgentEndData{
		Success: true,
		Messages: []transcript.Message{
			msg(transcript.RoleUser, textBlock("read it twice")),
			msg(transcript.RoleAssistant, toolCallBlock("id1", "read", args), toolCallBlock("id2", "read", args)),
		},
	})
	r.wg.Wait()

	ids := map[string]string{}
	for _, ev := range fc.events() {
		if ev["type"] == "tool_call" {
			d := eventData(ev)
			ids[d["tool_call_id"].(string)] = d["source"].(string)
		}
	}
	assert.Equal(t, map[string]string{"id1": "hook", "id2": "transcript"}, ids)
}

func TestToolCalls_LiveWithoutIDAbsorbsOneCall(t *testing.T) {
	fc := newFakeCollector(t)
	r := newTestRelay(t, fc, nil)
	ctx := context.Background()
	args := map[string]any{"cmd": "date"}

	r.AfterToolCall(ctx, meta("s1"), hooks.ToolCallData{ToolName: "exec", Params: args})
	r.AgentEnd(ctx, meta("s1"), hooks.AgentEndData{
		Success: true,
		Messages: []transcript.Message{
			msg(transcript.RoleUser, textBlock("run date twice")),
			msg(transcript.RoleAssistant, toolCallBlock("a", "exec", args), toolCallBlock("b", "exec", args)),
		},
	})
	r.wg.Wait()

	var sources []string
	for _, ev := range fc.events() {
		if ev["type"] == "tool_call" {
			sources = append(sources, eventData(ev)["source"].(string))
		}
	}
	assert.ElementsMatch(t, []string{"hook", "transcript"}, sources)
}

func TestToolCalls_DuplicatedHistoryEntriesSentOnce(t *testing.T) {
	fc := newFakeCollector(t)
	r := newTestRelay(t, fc, nil)
	call := toolCallBlock("c7", "search", map[string]any{"q": "go"})

	r.AgentEnd(context.Background(), meta("s1"), hooks.AgentEndData{
		Success: true,
		Messages: []transcript.Message{
			msg(transcript.RoleUser, textBlock("look it up")),
			msg(transcript.RoleAssistant, call),
			msg(transcript.RoleAssistant, call),
		},
	})
	r.wg.Wait()

	var calls int
	for _, ev := range fc.events() {
		if ev["type"] == "tool_call" {
			calls++
		}
	}
	assert.Equal(t, 1, calls)
}

func TestThinkingOnlyTurn_ClosesWithoutMessage(t *testing.T) {
	fc := newFakeCollector(t)
	r := newTestRelay(t, fc, nil)
	ctx := context.Background()

	r.AgentEnd(ctx, meta("s1"), hooks.AgentEndData{
		Success: true,
		Messages: []transcript.Message{
			msg(transcript.RoleUser, textBlock("think")),
			msg(transcript.RoleAssistant, transcript.Block{"type": "thinking", "thinking": "hmm"}),
		},
		Usage: &transcript.Usage{Output: 3, Total: 3},
	})
	r.wg.Wait()

	events := fc.events()
	require.Len(t, events, 1)
	assert.Equal(t, "usage", events[0]["type"])
	assert.Equal(t, 0, r.correlator.Len())
}

func TestRegistrationExhausted_NoEvents(t *testing.T) {
	fc := newFakeCollector(t)
	fc.failRegister = true
	r := newTestRelay(t, fc, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r.MessageReceived(ctx, meta("s1"), hooks.MessageReceivedData{Content: transcript.TextContent("hello")})
		r.wg.Wait()
	}

	assert.Empty(t, fc.events())
	assert.Len(t, fc.byPath("/agents/register"), 3)
	assert.Equal(t, registration.Exhausted, r.Registrar().State())

	// A fresh start resets the budget.
	fc.mu.Lock()
	fc.failRegister = false
	fc.mu.Unlock()
	r.GatewayStart(ctx)
	r.wg.Wait()

	assert.Equal(t, registration.Registered, r.Registrar().State())
	assert.Len(t, fc.byPath("/agents/agent-1/config"), 1)
}

func TestGatewayStart_SyncsConfigWithStats(t *testing.T) {
	fc := newFakeCollector(t)
	host := map[string]any{
		"gateway": map[string]any{"port": 18789, "auth": map[string]any{"mode": "token", "token": "secret"}},
	}
	r := newTestRelay(t, fc, sanitize.StaticSource(host))
	ctx := context.Background()

	r.AfterToolCall(ctx, meta("s1"), hooks.ToolCallData{ToolName: "exec", Error: "exit status 1"})
	r.wg.Wait()

	r.GatewayStart(ctx)
	r.wg.Wait()
	assert.Equal(t, 1, r.scheduler.Active())

	syncs := fc.byPath("/agents/agent-1/config")
	require.Len(t, syncs, 1)
	body := syncs[0].body
	assert.Equal(t, "Bearer alk_test_key", syncs[0].auth)
	assert.Equal(t, map[string]any{"port": float64(18789), "auth_mode": "token"}, body["gateway"])

	stats := body["gateway_stats"].(map[string]any)
	assert.Equal(t, float64(0), stats["error_count"], "gateway start resets the error buffer")
	assert.Contains(t, stats, "uptime")

	r.AfterToolCall(ctx, meta("s1"), hooks.ToolCallData{ToolName: "exec", Error: "exit status 2"})
	r.Heartbeat(ctx)
	r.wg.Wait()

	syncs = fc.byPath("/agents/agent-1/config")
	require.Len(t, syncs, 2)
	stats = syncs[1].body["gateway_stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["error_count"])
	recent := stats["recent_errors"].([]any)
	require.Len(t, recent, 1)
	assert.Equal(t, "exec", recent[0].(map[string]any)["tool"])
	assert.Equal(t, "exit status 2", recent[0].(map[string]any)["message"])

	register := fc.byPath("/agents/register")
	require.Len(t, register, 1)
	assert.Equal(t, "test-gw", register[0].body["name"])
	assert.Equal(t, "openclaw", register[0].body["type"])
	assert.Equal(t, "/srv/agent", register[0].body["metadata"].(map[string]any)["workspace"])
}

func TestGatewayStart_TwiceKeepsOneTimer(t *testing.T) {
	fc := newFakeCollector(t)
	r := newTestRelay(t, fc, nil)
	ctx := context.Background()

	r.GatewayStart(ctx)
	r.GatewayStart(ctx)
	r.wg.Wait()
	assert.Equal(t, 1, r.scheduler.Active())

	r.GatewayStop(ctx)
	assert.Equal(t, 0, r.scheduler.Active())
}

func TestSync_SourceErrorStillSendsStats(t *testing.T) {
	fc := newFakeCollector(t)
	r := newTestRelay(t, fc, func(context.Context) (map[string]any, error) {
		return nil, errors.New("no such file")
	})

	assert.True(t, r.Sync(context.Background(), TriggerManual))

	syncs := fc.byPath("/agents/agent-1/config")
	require.Len(t, syncs, 1)
	assert.Contains(t, syncs[0].body, "gateway_stats")
	assert.NotContains(t, syncs[0].body, "gateway")
}

func TestActivate_FallbackRegisters(t *testing.T) {
	fc := newFakeCollector(t)
	cfg := testConfig(fc.srv.URL)
	cfg.Sync.RegisterFallbackDelay = 10 * time.Millisecond
	r, err := New(Options{Config: cfg, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	defer func() { _ = r.Shutdown(context.Background()) }()

	r.Activate()

	require.Eventually(t, func() bool {
		return r.Registrar().State() == registration.Registered
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, r.Registrar().Attempts())
}

func TestShutdown_StopsEverything(t *testing.T) {
	fc := newFakeCollector(t)
	r, err := New(Options{Config: testConfig(fc.srv.URL), Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	ctx := context.Background()

	r.GatewayStart(ctx)
	r.MessageReceived(ctx, meta("s1"), hooks.MessageReceivedData{Content: transcript.TextContent("hi")})
	require.NoError(t, r.Shutdown(ctx))

	assert.Equal(t, 0, r.scheduler.Active())
	assert.Equal(t, 0, r.correlator.Len())

	before := len(fc.events())
	r.MessageReceived(ctx, meta("s2"), hooks.MessageReceivedData{Content: transcript.TextContent("late")})
	r.wg.Wait()
	assert.Len(t, fc.events(), before, "nothing is sent after shutdown")
}

func TestDispatcher_DrivesRelay(t *testing.T) {
	fc := newFakeCollector(t)
	r := newTestRelay(t, fc, nil)

	input := strings.Join([]string{
		`{"hook":"message_received","session_key":"agent:main","data":{"from":"u","content":"what time is it"}}`,
		`{"hook":"after_tool_call","session_key":"agent:main","data":{"toolName":"clock","toolCallId":"t1","params":{}}}`,
		`{"hook":"agent_end","session_key":"agent:main","data":{"messages":[` +
			`{"role":"user","content":"what time is it"},` +
			`{"role":"assistant","content":[{"type":"toolCall","id":"t1","name":"clock","arguments":{}}]},` +
			`{"role":"toolResult","content":[{"type":"text","text":"12:00"}]},` +
			`{"role":"assistant","content":[{"type":"thinking","thinking":"read clock"},{"type":"text","text":"It is noon."}],"usage":{"input":5,"output":4}}` +
			`],"model":"m","provider":"p"}}`,
	}, "\n")

	d := hooks.NewDispatcher(r, nil)
	require.NoError(t, d.Run(context.Background(), strings.NewReader(input)))
	r.wg.Wait()

	events := fc.events()
	require.Len(t, events, 4)

	var reply, usage map[string]any
	for _, ev := range events {
		switch {
		case ev["type"] == "usage":
			usage = eventData(ev)
		case ev["type"] == "message" && eventData(ev)["role"] == "assistant":
			reply = eventData(ev)
		}
	}
	require.NotNil(t, reply)
	require.NotNil(t, usage)
	assert.Equal(t, "It is noon.", reply["content"])
	assert.Equal(t, "read clock", reply["thinking"])
	assert.Equal(t, "m", reply["model"])
	assert.Equal(t, float64(9), usage["total_tokens"], "usage falls back to per-message sums")
}

func TestDispatcher_MalformedAgentEndClosesTrace(t *testing.T) {
	fc := newFakeCollector(t)
	r := newTestRelay(t, fc, nil)
	d := hooks.NewDispatcher(r, nil)

	first := strings.Join([]string{
		`{"hook":"message_received","session_key":"s1","data":{"content":"one"}}`,
		`{"hook":"agent_end","session_key":"s1","data":{"messages":[{"role":"user","content":"one"},{"role":"assistant","content":{"text":"first"}}]}}`,
		`{"hook":"message_received","session_key":"s1","data":{"content":"two"}}`,
		`{"hook":"agent_end","session_key":"s1","data":"garbage"}`,
	}, "\n")
	require.NoError(t, d.Run(context.Background(), strings.NewReader(first)))
	assert.Equal(t, 0, r.correlator.Len(), "both turns closed")

	require.NoError(t, d.Run(context.Background(), strings.NewReader(`{"hook":"message_received","session_key":"s1","data":{"content":"three"}}`+"\n")))
	r.wg.Wait()

	traces := map[string]any{}
	for _, ev := range fc.events() {
		data := eventData(ev)
		if data["role"] == "user" {
			traces[data["content"].(string)] = data["trace_id"]
		}
		if data["role"] == "assistant" {
			assert.Equal(t, "first", data["content"], "object content is read as a text block")
		}
	}
	require.Len(t, traces, 3)
	assert.NotEqual(t, traces["one"], traces["two"])
	assert.NotEqual(t, traces["two"], traces["three"])
}
