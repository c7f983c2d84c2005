// Package statemachine holds the compiled representation of a
// state-machine definition: states, their entry/exit blocks, and their
// guarded transitions. It generalizes github.com/orkestr8/fsm's
// Index/Signal pair (types.go, spec.go) to named states driven by a
// textual definition language (see package lang) and typed guard
// expressions (see package lang/ast).
package statemachine

import (
	"encoding/json"

	"github.com/orkestr8/statemachine/lang/ast"
)

// Block is a pair of local declarations and the statement list that runs
// against them, corresponding to an entry or exit block in the source.
// Either may be empty.
type Block struct {
	Locals []ast.Decl
	Stmts  []*ast.Node
}

// Transition is an ordered (target, guard) pair belonging to a state.
// Target is resolved by name lazily, at the moment the transition fires,
// per the source's forward-reference tolerance.
type Transition struct {
	Target string
	Guard  *ast.Node
	Line   int
}

// State is a named vertex of the machine. It owns its blocks and
// transition list; they are destroyed only at machine teardown.
type State struct {
	ID          string
	Entry       Block
	Exit        Block
	Transitions []Transition
}

// InitStateID is the reserved name of the state entered at start.
const InitStateID = "init"

// Definition is the compiled, in-memory state graph produced by parsing a
// definition file. States are looked up by name; transitions resolve
// lazily against this map (see Definition.State), in place of the source's
// singly linked lists; no neighbor pointers are embedded in the state
// struct.
type Definition struct {
	Name        string
	Description string
	Verbose     bool

	states map[string]*State
	order  []string
}

// NewDefinition returns an empty, named definition ready to receive
// states via AddState.
func NewDefinition(name, description string) *Definition {
	return &Definition{
		Name:        name,
		Description: description,
		states:      map[string]*State{},
	}
}

// AddState registers a state, returning ErrDuplicateState if its id is
// already present.
func (d *Definition) AddState(s *State) error {
	if _, has := d.states[s.ID]; has {
		return ErrDuplicateState{ID: s.ID}
	}
	d.states[s.ID] = s
	d.order = append(d.order, s.ID)
	return nil
}

// State looks up a state by id.
func (d *Definition) State(id string) (*State, bool) {
	s, ok := d.states[id]
	return s, ok
}

// States returns all states in definition order.
func (d *Definition) States() []*State {
	out := make([]*State, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.states[id])
	}
	return out
}

// HasInit reports whether a state named "init" was defined.
func (d *Definition) HasInit() bool {
	_, ok := d.states[InitStateID]
	return ok
}

// Validate performs the only eager graph check the design calls for:
// presence of the init state. Transition targets are deliberately left
// unvalidated here — spec.md requires target resolution to happen lazily,
// at fire time (see runtime.Loop.handle), so a forward reference to a
// state defined later in the file, or even one that is never defined, is
// legal at parse time.
func (d *Definition) Validate() error {
	if !d.HasInit() {
		return ErrMissingInit{}
	}
	return nil
}

// DumpView is the diagnostic, marshalable snapshot of a Definition:
// everything a human or the -dump CLI flag needs to see without walking
// the live graph. Field tags cover both gopkg.in/yaml.v3 and
// encoding/json, since MarshalYAML and MarshalJSON both build one.
type DumpView struct {
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	States      []StateDumpView `yaml:"states" json:"states"`
}

// StateDumpView is one state's diagnostic summary: entry/exit statement
// counts rather than the full expression tree, plus its outgoing
// transitions in declaration order.
type StateDumpView struct {
	ID          string               `yaml:"id" json:"id"`
	EntryStmts  int                  `yaml:"entry_stmts" json:"entry_stmts"`
	ExitStmts   int                  `yaml:"exit_stmts" json:"exit_stmts"`
	Transitions []TransitionDumpView `yaml:"transitions,omitempty" json:"transitions,omitempty"`
}

// TransitionDumpView is one transition's diagnostic summary. Guard is the
// guard expression rendered via ast.Node.String, not the source text.
type TransitionDumpView struct {
	Target string `yaml:"target" json:"target"`
	Guard  string `yaml:"guard,omitempty" json:"guard,omitempty"`
	Line   int    `yaml:"line" json:"line"`
}

// Dump returns d's diagnostic snapshot in declaration order. Exported so
// callers other than the marshalers (e.g. a future inspection command)
// can use it without round-tripping through YAML or JSON.
func (d *Definition) Dump() DumpView {
	view := DumpView{Name: d.Name, Description: d.Description}
	for _, s := range d.States() {
		sv := StateDumpView{ID: s.ID, EntryStmts: len(s.Entry.Stmts), ExitStmts: len(s.Exit.Stmts)}
		for _, t := range s.Transitions {
			sv.Transitions = append(sv.Transitions, TransitionDumpView{
				Target: t.Target,
				Guard:  t.Guard.String(),
				Line:   t.Line,
			})
		}
		view.States = append(view.States, sv)
	}
	return view
}

// MarshalYAML implements yaml.Marshaler (gopkg.in/yaml.v3) by marshaling
// Dump's snapshot rather than d's unexported fields, for the -dump CLI
// flag and other diagnostics.
func (d *Definition) MarshalYAML() (interface{}, error) {
	return d.Dump(), nil
}

// MarshalJSON implements json.Marshaler over the same diagnostic
// snapshot MarshalYAML uses.
func (d *Definition) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Dump())
}
