package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/studycircle/studycircle/internal/fault"
	"github.com/studycircle/studycircle/internal/oracle"
	"github.com/studycircle/studycircle/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// scriptedGenerator returns one pre-built stream (or error) per Generate
// call and records the requests it saw.
type scriptedGenerator struct {
	streams  []oracle.Stream
	errs     []error
	requests []oracle.GenerateRequest
}

func (g *scriptedGenerator) Generate(ctx context.Context, req oracle.GenerateRequest) (oracle.Stream, error) {
	i := len(g.requests)
	g.requests = append(g.requests, req)
	if i < len(g.errs) && g.errs[i] != nil {
		return nil, g.errs[i]
	}
	if i >= len(g.streams) {
		return nil, fmt.Errorf("unexpected generate call %d", i)
	}
	return g.streams[i], nil
}

// echoTool records its invocation and returns a fixed payload.
type echoTool struct {
	name   string
	output string
	err    error
	gotUID string
	args   json.RawMessage
}

func (t *echoTool) Name() string        { return t.name }
func (t *echoTool) Description() string { return "test tool" }
func (t *echoTool) Params() (map[string]oracle.ParamSpec, []string) {
	return map[string]oracle.ParamSpec{"q": {Type: "string"}}, nil
}
func (t *echoTool) Call(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	t.gotUID = userID
	t.args = args
	if t.err != nil {
		return "", t.err
	}
	return t.output, nil
}

func textStream(deltas ...string) oracle.Stream {
	chunks := make([]oracle.Chunk, len(deltas))
	for i, d := range deltas {
		chunks[i] = oracle.Chunk{TextDelta: d}
	}
	return oracle.NewSliceStream(chunks)
}

func collectEvents() (func(Event) error, *[]Event) {
	var events []Event
	return func(ev Event) error {
		events = append(events, ev)
		return nil
	}, &events
}

func newTestOrchestrator(t *testing.T, gen oracle.Generator, tools ...Tool) (*Orchestrator, *storage.Store) {
	t.Helper()
	store := openTestStore(t)
	registry := NewRegistry()
	for _, tool := range tools {
		registry.Register(tool)
	}
	return NewOrchestrator(store, gen, registry, time.Minute), store
}

func TestRun_SimpleTurn(t *testing.T) {
	gen := &scriptedGenerator{streams: []oracle.Stream{textStream("Hel", "lo ", "there")}}
	o, store := newTestOrchestrator(t, gen)

	emit, events := collectEvents()
	result, err := o.Run(context.Background(), TurnRequest{UserID: "alice", Message: "hi"}, emit)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !result.NewThread {
		t.Error("expected a new thread")
	}
	if result.Aborted {
		t.Error("turn should not be aborted")
	}
	if result.Message.Content != "Hello there" {
		t.Errorf("persisted content = %q, want %q", result.Message.Content, "Hello there")
	}

	// Events: the deltas in order, then done.
	var deltas string
	for _, ev := range *events {
		if ev.Type == EventTextDelta {
			deltas += ev.Delta
		}
	}
	if deltas != "Hello there" {
		t.Errorf("streamed deltas = %q, want %q", deltas, "Hello there")
	}
	last := (*events)[len(*events)-1]
	if last.Type != EventDone || last.Partial {
		t.Errorf("last event = %+v, want non-partial done", last)
	}
	if last.ThreadID != result.ThreadID || last.MessageID != result.Message.ID {
		t.Errorf("done event ids = %s/%s, want %s/%s", last.ThreadID, last.MessageID, result.ThreadID, result.Message.ID)
	}

	// Exactly one user and one assistant message persisted.
	msgs, err := store.ListMessages(result.ThreadID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("persisted roles = %+v, want [user assistant]", msgs)
	}
	if msgs[1].Partial {
		t.Error("completed message must not be partial")
	}
}

func TestRun_ToolRound(t *testing.T) {
	tool := &echoTool{name: "lookup", output: `{"found":true}`}
	call := &oracle.ToolCall{ID: "c1", Name: "lookup", Arguments: []byte(`{"q":"db"}`)}

	gen := &scriptedGenerator{streams: []oracle.Stream{
		oracle.NewSliceStream([]oracle.Chunk{
			{TextDelta: "Let me check. "},
			{ToolCall: call},
		}),
		textStream("Found it."),
	}}
	o, store := newTestOrchestrator(t, gen, tool)

	emit, events := collectEvents()
	result, err := o.Run(context.Background(), TurnRequest{UserID: "alice", Message: "look up db"}, emit)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if tool.gotUID != "alice" {
		t.Errorf("tool saw user %q, want alice", tool.gotUID)
	}
	if string(tool.args) != `{"q":"db"}` {
		t.Errorf("tool args = %s", tool.args)
	}

	if result.Message.Content != "Let me check. Found it." {
		t.Errorf("content = %q", result.Message.Content)
	}
	if len(result.Message.ToolCalls) != 1 || result.Message.ToolCalls[0].ID != "c1" {
		t.Errorf("ToolCalls = %+v", result.Message.ToolCalls)
	}
	if len(result.Message.ToolResults) != 1 || result.Message.ToolResults[0].CallID != "c1" {
		t.Errorf("ToolResults = %+v", result.Message.ToolResults)
	}
	if result.Message.ToolResults[0].IsError {
		t.Error("successful tool result flagged as error")
	}

	// Event order: deltas, tool_call, tool_result, deltas, done.
	var kinds []EventType
	for _, ev := range *events {
		kinds = append(kinds, ev.Type)
	}
	want := []EventType{EventTextDelta, EventToolCall, EventToolResult, EventTextDelta, EventDone}
	if len(kinds) != len(want) {
		t.Fatalf("event kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event kinds = %v, want %v", kinds, want)
		}
	}

	// Second generation leg must carry the tool exchange.
	if len(gen.requests) != 2 {
		t.Fatalf("generator called %d times, want 2", len(gen.requests))
	}
	second := gen.requests[1].Messages
	lastTwo := second[len(second)-2:]
	if len(lastTwo[0].ToolCalls) != 1 || lastTwo[0].Role != "assistant" {
		t.Errorf("penultimate context message = %+v, want assistant tool call", lastTwo[0])
	}
	if lastTwo[1].Role != "tool" || len(lastTwo[1].ToolResults) != 1 {
		t.Errorf("final context message = %+v, want tool result", lastTwo[1])
	}
	if lastTwo[1].ToolResults[0].Output != `{"found":true}` {
		t.Errorf("tool result output = %q", lastTwo[1].ToolResults[0].Output)
	}

	msgs, _ := store.ListMessages(result.ThreadID)
	if len(msgs) != 2 {
		t.Fatalf("persisted %d messages, want 2 (tool exchange folds into the assistant row)", len(msgs))
	}
}

func TestRun_ToolErrorDoesNotAbort(t *testing.T) {
	tool := &echoTool{name: "lookup", err: errors.New("backend down")}
	call := &oracle.ToolCall{ID: "c1", Name: "lookup", Arguments: []byte(`{}`)}

	gen := &scriptedGenerator{streams: []oracle.Stream{
		oracle.NewSliceStream([]oracle.Chunk{{ToolCall: call}}),
		textStream("The lookup is unavailable right now."),
	}}
	o, _ := newTestOrchestrator(t, gen, tool)

	emit, _ := collectEvents()
	result, err := o.Run(context.Background(), TurnRequest{UserID: "alice", Message: "look it up"}, emit)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.Message.ToolResults) != 1 || !result.Message.ToolResults[0].IsError {
		t.Fatalf("ToolResults = %+v, want one error result", result.Message.ToolResults)
	}
	if result.Message.Partial {
		t.Error("tool failure must not mark the message partial")
	}
	if result.Message.Content != "The lookup is unavailable right now." {
		t.Errorf("content = %q", result.Message.Content)
	}
}

func TestRun_UnknownToolFinalizes(t *testing.T) {
	call := &oracle.ToolCall{ID: "c1", Name: "no_such_tool", Arguments: []byte(`{}`)}
	gen := &scriptedGenerator{streams: []oracle.Stream{
		oracle.NewSliceStream([]oracle.Chunk{
			{TextDelta: "One moment."},
			{ToolCall: call},
		}),
	}}
	o, _ := newTestOrchestrator(t, gen)

	emit, events := collectEvents()
	result, err := o.Run(context.Background(), TurnRequest{UserID: "alice", Message: "go"}, emit)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Aborted {
		t.Error("unknown tool should finalize the turn, not abort it")
	}
	if len(result.Message.ToolResults) != 1 || !result.Message.ToolResults[0].IsError {
		t.Errorf("ToolResults = %+v, want one error result", result.Message.ToolResults)
	}

	sawError := false
	for _, ev := range *events {
		if ev.Type == EventError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("expected an error event for the unknown tool")
	}
	if (*events)[len(*events)-1].Type != EventDone {
		t.Error("turn should still emit done")
	}
}

func TestRun_ClientGonePersistsPartial(t *testing.T) {
	gen := &scriptedGenerator{streams: []oracle.Stream{textStream("first ", "second ", "third")}}
	o, store := newTestOrchestrator(t, gen)

	calls := 0
	emit := func(ev Event) error {
		calls++
		if calls >= 2 {
			return errors.New("client disconnected")
		}
		return nil
	}

	result, err := o.Run(context.Background(), TurnRequest{UserID: "alice", Message: "talk"}, emit)
	if err != nil {
		t.Fatalf("Run after client loss should not error: %v", err)
	}
	if !result.Aborted {
		t.Fatal("expected aborted result")
	}
	if !result.Message.Partial {
		t.Error("persisted message must carry the partial flag")
	}

	msgs, _ := store.ListMessages(result.ThreadID)
	if len(msgs) != 2 {
		t.Fatalf("persisted %d messages, want user + partial assistant", len(msgs))
	}
	if msgs[1].Content == "" {
		t.Error("partial content should keep the streamed prefix")
	}
	if msgs[1].Content == "first second third" {
		t.Error("content should be truncated at the disconnect")
	}
}

func TestRun_GeneratorFailureNoPersist(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{fmt.Errorf("%w: quota exceeded", fault.ErrOracle)}}
	o, store := newTestOrchestrator(t, gen)

	emit, events := collectEvents()
	result, err := o.Run(context.Background(), TurnRequest{UserID: "alice", Message: "hi"}, emit)
	if !errors.Is(err, fault.ErrOracle) {
		t.Fatalf("err = %v, want ErrOracle", err)
	}

	msgs, _ := store.ListMessages(result.ThreadID)
	if len(msgs) != 1 || msgs[0].Role != "user" {
		t.Fatalf("persisted %+v, want only the user message", msgs)
	}

	sawError := false
	for _, ev := range *events {
		if ev.Type == EventError {
			sawError = true
		}
		if ev.Type == EventDone {
			t.Error("failed turn must not emit done")
		}
	}
	if !sawError {
		t.Error("expected an error event")
	}
}

func TestRun_Validation(t *testing.T) {
	o, _ := newTestOrchestrator(t, &scriptedGenerator{})
	emit, _ := collectEvents()

	for _, msg := range []string{"", "   "} {
		_, err := o.Run(context.Background(), TurnRequest{UserID: "alice", Message: msg}, emit)
		if !errors.Is(err, fault.ErrInvalidArgument) {
			t.Errorf("message %q: err = %v, want ErrInvalidArgument", msg, err)
		}
	}

	long := make([]rune, maxMessageRunes+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err := o.Run(context.Background(), TurnRequest{UserID: "alice", Message: string(long)}, emit)
	if !errors.Is(err, fault.ErrInvalidArgument) {
		t.Errorf("oversized message: err = %v, want ErrInvalidArgument", err)
	}
}

func TestRun_ThreadBusy(t *testing.T) {
	gen := &scriptedGenerator{streams: []oracle.Stream{textStream("ok")}}
	o, store := newTestOrchestrator(t, gen)

	if err := store.CreateThread(storage.Thread{ID: "t1", OwnerID: "alice"}); err != nil {
		t.Fatal(err)
	}
	if !o.locks.acquire("t1") {
		t.Fatal("setup: could not take thread lock")
	}
	defer o.locks.release("t1")

	emit, _ := collectEvents()
	_, err := o.Run(context.Background(), TurnRequest{UserID: "alice", ThreadID: "t1", Message: "hi"}, emit)
	if !errors.Is(err, fault.ErrThreadBusy) {
		t.Errorf("err = %v, want ErrThreadBusy", err)
	}
}

func TestRun_ThreadOwnership(t *testing.T) {
	gen := &scriptedGenerator{streams: []oracle.Stream{textStream("ok")}}
	o, store := newTestOrchestrator(t, gen)

	if err := store.CreateThread(storage.Thread{ID: "t1", OwnerID: "bob"}); err != nil {
		t.Fatal(err)
	}

	emit, _ := collectEvents()
	_, err := o.Run(context.Background(), TurnRequest{UserID: "alice", ThreadID: "t1", Message: "hi"}, emit)
	if !errors.Is(err, fault.ErrPermissionDenied) {
		t.Errorf("foreign thread: err = %v, want ErrPermissionDenied", err)
	}

	// Soft-deleted threads reject new turns.
	if err := store.CreateThread(storage.Thread{ID: "t2", OwnerID: "alice"}); err != nil {
		t.Fatal(err)
	}
	if err := store.SetThreadInactive("t2"); err != nil {
		t.Fatal(err)
	}
	_, err = o.Run(context.Background(), TurnRequest{UserID: "alice", ThreadID: "t2", Message: "hi"}, emit)
	if !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("deleted thread: err = %v, want ErrNotFound", err)
	}
}

func TestRun_HistoryReplayedToOracle(t *testing.T) {
	gen := &scriptedGenerator{streams: []oracle.Stream{
		textStream("first answer"),
		textStream("second answer"),
	}}
	o, _ := newTestOrchestrator(t, gen)

	emit, _ := collectEvents()
	first, err := o.Run(context.Background(), TurnRequest{UserID: "alice", Message: "question one"}, emit)
	if err != nil {
		t.Fatal(err)
	}
	_, err = o.Run(context.Background(), TurnRequest{UserID: "alice", ThreadID: first.ThreadID, Message: "question two"}, emit)
	if err != nil {
		t.Fatal(err)
	}

	second := gen.requests[1].Messages
	if len(second) != 3 {
		t.Fatalf("second turn context has %d messages, want 3", len(second))
	}
	if second[0].Content != "question one" || second[1].Content != "first answer" || second[2].Content != "question two" {
		t.Errorf("context = %+v", second)
	}
}

func TestSubmitFeedback(t *testing.T) {
	o, store := newTestOrchestrator(t, &scriptedGenerator{})

	if err := store.CreateThread(storage.Thread{ID: "t1", OwnerID: "alice"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AppendMessage(storage.Message{ID: "m1", ThreadID: "t1", Role: "assistant", Content: "hi"}); err != nil {
		t.Fatal(err)
	}

	for _, score := range []int{0, 6, -1} {
		if err := o.SubmitFeedback("alice", "t1", "m1", score, ""); !errors.Is(err, fault.ErrInvalidArgument) {
			t.Errorf("score %d: err = %v, want ErrInvalidArgument", score, err)
		}
	}

	if err := o.SubmitFeedback("alice", "t1", "m1", 3, "okay"); err != nil {
		t.Fatalf("SubmitFeedback: %v", err)
	}
	if err := o.SubmitFeedback("alice", "t1", "m1", 5, "better"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	msgs, _ := store.ListMessages("t1")
	if msgs[0].FeedbackScore != 5 || msgs[0].FeedbackText != "better" {
		t.Errorf("feedback = %d %q, want overwrite to 5", msgs[0].FeedbackScore, msgs[0].FeedbackText)
	}

	// A thread the caller does not own reads as missing.
	if err := o.SubmitFeedback("mallory", "t1", "m1", 4, ""); !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("foreign feedback: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteThreadOwnership(t *testing.T) {
	o, store := newTestOrchestrator(t, &scriptedGenerator{})

	if err := store.CreateThread(storage.Thread{ID: "t1", OwnerID: "alice"}); err != nil {
		t.Fatal(err)
	}

	if err := o.DeleteThread("mallory", "t1"); !errors.Is(err, fault.ErrPermissionDenied) {
		t.Errorf("err = %v, want ErrPermissionDenied", err)
	}
	if err := o.DeleteThread("alice", "t1"); err != nil {
		t.Fatalf("DeleteThread: %v", err)
	}

	// Owner can still read the soft-deleted thread's messages.
	if _, err := o.ThreadMessages("alice", "t1"); err != nil {
		t.Errorf("ThreadMessages after delete: %v", err)
	}
}

func TestThreadTitleTruncation(t *testing.T) {
	long := ""
	for i := 0; i < 20; i++ {
		long += "alpha beta "
	}
	title := threadTitle(long)
	if got := len([]rune(title)); got > maxTitleRunes+1 {
		t.Errorf("title length = %d runes, want <= %d plus ellipsis", got, maxTitleRunes)
	}

	if got := threadTitle("  hello\n  world  "); got != "hello world" {
		t.Errorf("title = %q, want whitespace collapsed", got)
	}
}
