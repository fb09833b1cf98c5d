package agent

import "fmt"

// turnState is the explicit state of one turn. Transitions go through
// turn.advance, which asserts legality, so an illegal move (for example
// tool dispatch after finalizing) fails loudly instead of silently
// corrupting a turn.
type turnState int

const (
	stateIdle turnState = iota
	stateReceiving
	stateThinking
	stateToolDispatch
	stateFinalizing
	stateDone
	stateAborted
)

func (s turnState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateReceiving:
		return "receiving"
	case stateThinking:
		return "thinking"
	case stateToolDispatch:
		return "tool_dispatch"
	case stateFinalizing:
		return "finalizing"
	case stateDone:
		return "done"
	case stateAborted:
		return "aborted"
	}
	return fmt.Sprintf("turnState(%d)", int(s))
}

// Aborted is reachable from every non-terminal state; the rest follow
// Idle → Receiving → Thinking ⇄ ToolDispatch → Finalizing → Done.
var turnTransitions = map[turnState]map[turnState]bool{
	stateIdle:         {stateReceiving: true, stateAborted: true},
	stateReceiving:    {stateThinking: true, stateAborted: true},
	stateThinking:     {stateToolDispatch: true, stateFinalizing: true, stateAborted: true},
	stateToolDispatch: {stateThinking: true, stateFinalizing: true, stateAborted: true},
	stateFinalizing:   {stateDone: true, stateAborted: true},
}

type turn struct {
	state turnState
}

func newTurn() *turn {
	return &turn{state: stateIdle}
}

// advance moves the turn to next. An illegal transition is a programming
// bug, not a runtime condition, so it panics.
func (t *turn) advance(next turnState) {
	if !turnTransitions[t.state][next] {
		panic(fmt.Sprintf("agent: illegal turn transition %s -> %s", t.state, next))
	}
	t.state = next
}
