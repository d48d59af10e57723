// Package phase implements the Research and SDLC methodology state machines
// and the macro-phase enum they run alongside.
//
// Machines are pure: Transition maps (current, action) to a Result without
// touching storage. Controller persists results through docstore.Store.Apply.
package phase

import (
	"errors"
	"fmt"
	"strings"
)

// None is the value of a methodology field that has not been started.
const None = "none"

var (
	ErrIllegalTransition  = errors.New("illegal phase transition")
	ErrUnknownPhase       = errors.New("unknown phase")
	ErrUnknownAction      = errors.New("unknown phase action")
	ErrUnknownMethodology = errors.New("unknown methodology")
)

// Action is a transition trigger.
type Action string

const (
	ActionStart  Action = "start"
	ActionNext   Action = "next"
	ActionReject Action = "reject"
	ActionFail   Action = "fail"
	ActionReset  Action = "reset"
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(s)); a {
	case ActionStart, ActionNext, ActionReject, ActionFail, ActionReset:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Result describes a transition. When CycleComplete is set, To equals From.
type Result struct {
	Methodology   string `json:"methodology"`
	Action        Action `json:"action"`
	From          string `json:"from"`
	To            string `json:"to"`
	CycleComplete bool   `json:"cycle_complete"`
}

// Changed reports whether the transition moves the field.
func (r Result) Changed() bool {
	return r.From != r.To
}

// Machine is an ordered chain of phases plus a regression map.
type Machine struct {
	name    string
	field   string
	chain   []string
	regress map[string]string
}

var research = &Machine{
	name:  "research",
	field: "workflow.research_phase",
	chain: []string{
		"hypothesis",
		"literature_review",
		"experiment_design",
		"data_collection",
		"analysis",
		"peer_review",
		"publication",
	},
	regress: map[string]string{
		"literature_review": "hypothesis",
		"experiment_design": "hypothesis",
		"data_collection":   "experiment_design",
		"analysis":          "experiment_design",
		"peer_review":       "analysis",
		"publication":       "analysis",
	},
}

var sdlc = &Machine{
	name:  "sdlc",
	field: "workflow.sdlc_phase",
	chain: []string{
		"requirements",
		"design",
		"implementation",
		"verification",
		"deployment",
		"maintenance",
	},
	regress: map[string]string{
		"design":         "requirements",
		"implementation": "design",
		"verification":   "implementation",
		"deployment":     "verification",
		"maintenance":    "deployment",
	},
}

// Research returns the iterative research machine.
func Research() *Machine { return research }

// SDLC returns the sequential delivery machine.
func SDLC() *Machine { return sdlc }

// ForMethodology looks a machine up by name.
func ForMethodology(name string) (*Machine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "research":
		return research, nil
	case "sdlc", "delivery":
		return sdlc, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMethodology, name)
}

// Name is the methodology name.
func (m *Machine) Name() string { return m.name }

// Field is the state document key holding this machine's phase.
func (m *Machine) Field() string { return m.field }

// Phases returns a copy of the ordered chain.
func (m *Machine) Phases() []string {
	return append([]string(nil), m.chain...)
}

func (m *Machine) position(p string) int {
	for i, c := range m.chain {
		if c == p {
			return i
		}
	}
	return -1
}

// normalize maps "" to None and rejects values outside the chain.
func (m *Machine) normalize(current string) (string, error) {
	if current == "" || current == None {
		return None, nil
	}
	if m.position(current) < 0 {
		return "", fmt.Errorf("%w: %q is not a %s phase", ErrUnknownPhase, current, m.name)
	}
	return current, nil
}

// Transition applies action to current.
func (m *Machine) Transition(current string, action Action) (Result, error) {
	cur, err := m.normalize(current)
	if err != nil {
		return Result{}, err
	}
	res := Result{Methodology: m.name, Action: action, From: cur, To: cur}

	switch action {
	case ActionStart:
		if cur != None {
			return Result{}, fmt.Errorf("%w: %s already started at %q", ErrIllegalTransition, m.name, cur)
		}
		res.To = m.chain[0]

	case ActionNext:
		if cur == None {
			return Result{}, fmt.Errorf("%w: %s has not been started", ErrIllegalTransition, m.name)
		}
		i := m.position(cur)
		if i == len(m.chain)-1 {
			res.CycleComplete = true
			return res, nil
		}
		res.To = m.chain[i+1]

	case ActionReject, ActionFail:
		if cur == None {
			return Result{}, fmt.Errorf("%w: %s has not been started", ErrIllegalTransition, m.name)
		}
		target, ok := m.regress[cur]
		if !ok {
			return Result{}, fmt.Errorf("%w: %q has no earlier %s phase", ErrIllegalTransition, cur, m.name)
		}
		res.To = target

	case ActionReset:
		res.To = None

	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return res, nil
}
