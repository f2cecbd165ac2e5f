package graph

import (
	"fmt"
	"strings"

	"opto/internal/ci"
)

// Reason says why compiled code gave up on a speculation.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonNullCheck
	ReasonNullAssert
	ReasonUnloaded
	ReasonUninitialized
	ReasonUnhandled
)

var reasonNames = [...]string{
	ReasonNone:          "none",
	ReasonNullCheck:     "null_check",
	ReasonNullAssert:    "null_assert",
	ReasonUnloaded:      "unloaded",
	ReasonUninitialized: "uninitialized",
	ReasonUnhandled:     "unhandled",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("reason%d", int(r))
}

// Action says what the runtime should do with the compiled code after a trap.
type Action int

const (
	ActionNone Action = iota
	ActionMaybeRecompile
	ActionReinterpret
	ActionMakeNotEntrant
)

var actionNames = [...]string{
	ActionNone:           "none",
	ActionMaybeRecompile: "maybe_recompile",
	ActionReinterpret:    "reinterpret",
	ActionMakeNotEntrant: "make_not_entrant",
}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("action%d", int(a))
}

type TrapInfo struct {
	Reason  Reason
	Action  Action
	Klass   *ci.Klass
	Comment string
	Bci     int
}

func (t *TrapInfo) String() string {
	parts := []string{
		"reason=" + t.Reason.String(),
		"action=" + t.Action.String(),
		fmt.Sprintf("bci=%d", t.Bci),
	}
	if t.Klass != nil {
		parts = append(parts, "klass="+t.Klass.Name)
	}
	if t.Comment != "" {
		parts = append(parts, fmt.Sprintf("comment=%q", t.Comment))
	}
	return strings.Join(parts, " ")
}
