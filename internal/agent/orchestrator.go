// Package agent drives conversational turns: it streams model output to the
// caller, dispatches tool calls, and persists the finished turn as thread
// history.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/studycircle/studycircle/internal/fault"
	"github.com/studycircle/studycircle/internal/oracle"
	"github.com/studycircle/studycircle/internal/storage"
)

const (
	maxMessageRunes = 2000

	// maxToolRounds bounds generate→tool→generate cycles within one turn so
	// a model stuck requesting tools cannot spin forever.
	maxToolRounds = 8

	defaultTurnTimeout = 60 * time.Second

	systemPrompt = `You are the studycircle assistant. You help students find study partners,
reflect on their own study profile, and work with their ingested study materials.
Use the available tools when the user's request needs live data. Be concise.`
)

// ThreadStore is the durable conversation log. Implemented by storage.Store.
type ThreadStore interface {
	GetThread(id string) (storage.Thread, error)
	CreateThread(t storage.Thread) error
	ListThreads(ownerID string, limit int) ([]storage.Thread, error)
	SetThreadInactive(id string) error
	AppendMessage(m storage.Message) (storage.Message, error)
	ListMessages(threadID string) ([]storage.Message, error)
	SetFeedback(threadID, messageID string, score int, text string) error
}

// TurnRequest is one incoming user message. An empty ThreadID starts a new
// thread owned by UserID.
type TurnRequest struct {
	UserID   string
	ThreadID string
	Message  string
}

// TurnResult reports what a turn persisted. Message is the zero value when
// generation failed before producing anything worth keeping.
type TurnResult struct {
	ThreadID  string
	NewThread bool
	Message   storage.Message
	Aborted   bool
}

// Orchestrator runs turns. One turn is a single logical sequence: model
// generation and tool execution interleave but never run concurrently
// within a turn. Turns on distinct threads may run in parallel; a second
// turn against a busy thread fails with fault.ErrThreadBusy.
type Orchestrator struct {
	store       ThreadStore
	generator   oracle.Generator
	registry    *Registry
	locks       *threadLocks
	turnTimeout time.Duration
	logger      *slog.Logger
}

// NewOrchestrator creates an Orchestrator. turnTimeout bounds the wall-clock
// duration of one turn; <= 0 selects the 60s default.
func NewOrchestrator(store ThreadStore, generator oracle.Generator, registry *Registry, turnTimeout time.Duration) *Orchestrator {
	if turnTimeout <= 0 {
		turnTimeout = defaultTurnTimeout
	}
	return &Orchestrator{
		store:       store,
		generator:   generator,
		registry:    registry,
		locks:       newThreadLocks(),
		turnTimeout: turnTimeout,
		logger:      slog.Default(),
	}
}

// Run executes one turn, forwarding each stream event to emit as it is
// produced. emit returning an error means the consumer is gone; the turn
// aborts and whatever partial content exists is persisted with the partial
// flag set. The returned error reports validation, ownership, oracle, and
// persistence failures; tool failures are contained within the turn.
func (o *Orchestrator) Run(ctx context.Context, req TurnRequest, emit func(Event) error) (TurnResult, error) {
	t := newTurn()

	if err := validateMessage(req.Message); err != nil {
		return TurnResult{}, err
	}
	t.advance(stateReceiving)

	thread, created, err := o.resolveThread(req)
	if err != nil {
		return TurnResult{}, err
	}

	if !o.locks.acquire(thread.ID) {
		return TurnResult{}, fmt.Errorf("%w: turn already running on thread %s", fault.ErrThreadBusy, thread.ID)
	}
	defer o.locks.release(thread.ID)

	history, err := o.store.ListMessages(thread.ID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("%w: loading history: %v", fault.ErrPersistence, err)
	}

	userMsg := storage.Message{
		ID:       uuid.New().String(),
		ThreadID: thread.ID,
		Role:     "user",
		Content:  req.Message,
	}
	if _, err := o.store.AppendMessage(userMsg); err != nil {
		return TurnResult{}, fmt.Errorf("%w: appending user message: %v", fault.ErrPersistence, err)
	}

	turnCtx, cancel := context.WithTimeout(ctx, o.turnTimeout)
	defer cancel()

	msgs := contextMessages(history, req.Message)

	// send forwards an event and flips the turn into the aborting path when
	// the consumer has disconnected.
	clientGone := false
	send := func(ev Event) bool {
		if clientGone {
			return false
		}
		if err := emit(ev); err != nil {
			clientGone = true
			cancel()
			return false
		}
		return true
	}

	t.advance(stateThinking)

	var (
		content     strings.Builder
		toolCalls   []storage.ToolCall
		toolResults []storage.ToolResult
		genErr      error
	)

legs:
	for round := 0; round < maxToolRounds; round++ {
		stream, err := o.generator.Generate(turnCtx, oracle.GenerateRequest{
			System:   systemPrompt,
			Messages: msgs,
			Tools:    o.registry.Specs(),
		})
		if err != nil {
			genErr = err
			break
		}

		call, err := consumeStream(stream, &content, send)
		if err != nil {
			genErr = err
			break
		}
		if call == nil {
			break // model signalled completion
		}

		t.advance(stateToolDispatch)
		toolCalls = append(toolCalls, storage.ToolCall{ID: call.ID, Name: call.Name, Arguments: call.Arguments})
		send(Event{Type: EventToolCall, CallID: call.ID, ToolName: call.Name, ToolArgs: call.Arguments})

		tool, known := o.registry.Lookup(call.Name)
		if !known {
			// Partial output is still valid: report the error and finalize
			// instead of aborting the turn.
			msg := fmt.Sprintf("unknown tool %q", call.Name)
			toolResults = append(toolResults, storage.ToolResult{CallID: call.ID, Output: msg, IsError: true})
			send(Event{Type: EventError, Message: msg})
			o.logger.Warn("model requested unregistered tool", "tool", call.Name, "thread", thread.ID)
			break legs
		}

		// Tool errors become error results the model can react to
		// conversationally; they never abort the turn.
		output, callErr := tool.Call(turnCtx, req.UserID, call.Arguments)
		isErr := false
		if callErr != nil {
			output = callErr.Error()
			isErr = true
			o.logger.Warn("tool call failed", "tool", call.Name, "thread", thread.ID, "error", callErr)
		}
		toolResults = append(toolResults, storage.ToolResult{CallID: call.ID, Output: output, IsError: isErr})
		send(Event{Type: EventToolResult, CallID: call.ID, ToolName: call.Name, Output: output, IsError: isErr})

		msgs = append(msgs,
			oracle.Message{Role: "assistant", ToolCalls: []oracle.ToolCall{*call}},
			oracle.Message{Role: "tool", ToolResults: []oracle.ToolResult{{
				CallID: call.ID, Name: call.Name, Output: output, IsError: isErr,
			}}},
		)
		t.advance(stateThinking)
	}

	aborted := clientGone || turnCtx.Err() != nil
	if genErr != nil && !aborted {
		send(Event{Type: EventError, Message: "generation failed"})
	}

	hasOutput := content.Len() > 0 || len(toolCalls) > 0
	if !hasOutput {
		// Nothing worth keeping: no assistant message is persisted.
		t.advance(stateAborted)
		if genErr != nil {
			return TurnResult{ThreadID: thread.ID, NewThread: created, Aborted: true}, genErr
		}
		return TurnResult{ThreadID: thread.ID, NewThread: created, Aborted: aborted},
			fmt.Errorf("%w: model produced no output", fault.ErrOracle)
	}

	partial := aborted || genErr != nil
	if aborted {
		t.advance(stateAborted)
	} else {
		t.advance(stateFinalizing)
	}

	assistant := storage.Message{
		ID:          uuid.New().String(),
		ThreadID:    thread.ID,
		Role:        "assistant",
		Content:     content.String(),
		ToolCalls:   toolCalls,
		ToolResults: toolResults,
		Partial:     partial,
	}
	persisted, perr := o.store.AppendMessage(assistant)
	if perr != nil {
		if aborted {
			// Best-effort only: the turn is already aborted.
			o.logger.Error("partial persist failed after abort", "thread", thread.ID, "error", perr)
			return TurnResult{ThreadID: thread.ID, NewThread: created, Aborted: true}, nil
		}
		return TurnResult{ThreadID: thread.ID, NewThread: created},
			fmt.Errorf("%w: persisting assistant message: %v", fault.ErrPersistence, perr)
	}

	send(Event{Type: EventDone, ThreadID: thread.ID, MessageID: persisted.ID, Partial: partial})
	if !aborted {
		t.advance(stateDone)
	}

	o.logger.Info("turn finished",
		"thread", thread.ID,
		"new_thread", created,
		"tool_calls", len(toolCalls),
		"partial", partial,
		"aborted", aborted,
	)

	result := TurnResult{ThreadID: thread.ID, NewThread: created, Message: persisted, Aborted: aborted}
	if genErr != nil && !aborted {
		return result, genErr
	}
	return result, nil
}

// consumeStream reads one generation leg. It forwards text deltas as they
// arrive and returns the first tool call, or nil when the model completes.
// The stream is always closed before returning so the oracle connection is
// released even on early exit.
func consumeStream(stream oracle.Stream, content *strings.Builder, send func(Event) bool) (*oracle.ToolCall, error) {
	defer stream.Close()
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if chunk.TextDelta != "" {
			content.WriteString(chunk.TextDelta)
			if !send(Event{Type: EventTextDelta, Delta: chunk.TextDelta}) {
				return nil, context.Canceled
			}
		}
		if chunk.ToolCall != nil {
			return chunk.ToolCall, nil
		}
	}
}

func validateMessage(msg string) error {
	if strings.TrimSpace(msg) == "" {
		return fmt.Errorf("%w: message must not be empty", fault.ErrInvalidArgument)
	}
	if n := utf8.RuneCountInString(msg); n > maxMessageRunes {
		return fmt.Errorf("%w: message length %d exceeds %d characters", fault.ErrInvalidArgument, n, maxMessageRunes)
	}
	return nil
}

// resolveThread finds or creates the turn's thread. The caller must own the
// thread; soft-deleted threads do not accept new turns.
func (o *Orchestrator) resolveThread(req TurnRequest) (storage.Thread, bool, error) {
	if req.ThreadID == "" {
		thread := storage.Thread{
			ID:      uuid.New().String(),
			OwnerID: req.UserID,
			Title:   threadTitle(req.Message),
		}
		if err := o.store.CreateThread(thread); err != nil {
			return storage.Thread{}, false, fmt.Errorf("%w: creating thread: %v", fault.ErrPersistence, err)
		}
		return thread, true, nil
	}

	thread, err := o.store.GetThread(req.ThreadID)
	if err != nil {
		return storage.Thread{}, false, err
	}
	if thread.OwnerID != req.UserID {
		return storage.Thread{}, false, fmt.Errorf("%w: thread %s", fault.ErrPermissionDenied, req.ThreadID)
	}
	if !thread.IsActive {
		return storage.Thread{}, false, fmt.Errorf("%w: thread %s is deleted", fault.ErrNotFound, req.ThreadID)
	}
	return thread, false, nil
}

const maxTitleRunes = 60

func threadTitle(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		title = string(runes[:maxTitleRunes]) + "…"
	}
	return title
}

// contextMessages converts persisted history plus the new user message into
// the oracle turn context.
func contextMessages(history []storage.Message, newMessage string) []oracle.Message {
	msgs := make([]oracle.Message, 0, len(history)+1)
	for _, m := range history {
		om := oracle.Message{Role: m.Role, Content: m.Content}
		callNames := make(map[string]string, len(m.ToolCalls))
		for _, tc := range m.ToolCalls {
			callNames[tc.ID] = tc.Name
			om.ToolCalls = append(om.ToolCalls, oracle.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		msgs = append(msgs, om)
		// Persisted assistant messages fold tool results into the same row;
		// the oracle context needs them replayed as a separate tool message.
		if len(m.ToolResults) > 0 {
			tm := oracle.Message{Role: "tool"}
			for _, tr := range m.ToolResults {
				tm.ToolResults = append(tm.ToolResults, oracle.ToolResult{
					CallID: tr.CallID, Name: callNames[tr.CallID], Output: tr.Output, IsError: tr.IsError,
				})
			}
			msgs = append(msgs, tm)
		}
	}
	return append(msgs, oracle.Message{Role: "user", Content: newMessage})
}
