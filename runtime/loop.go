// Package runtime drives the single-threaded cooperative event loop
// (spec.md §4.4): one suspension point on two signal sources, with at
// most one transition fired per dispatched event.
package runtime

import (
	"sync"

	"github.com/orkestr8/statemachine"
	"github.com/orkestr8/statemachine/guard"
	"github.com/orkestr8/statemachine/lang/ast"
	"github.com/orkestr8/statemachine/log"
	"github.com/orkestr8/statemachine/timer"
	"github.com/orkestr8/statemachine/varserver"
)

// Evaluator is the slice of *eval.Evaluator the loop drives: guard
// evaluation and action-block execution, plus the single active-timer
// register the loop owns (spec.md §4.4 step 1).
type Evaluator interface {
	EvalGuard(node *ast.Node) (bool, error)
	EvalBlock(decls []ast.Decl, stmts []*ast.Node) error
	SetActiveTimer(id int)
}

// Result is handle's diagnostic return code (spec.md §4.4: "used only for
// diagnostics").
type Result int

const (
	ResultOK Result = iota
	ResultEventNotInGuard
	ResultGuardFalse
	ResultTargetMissing
	ResultInvalid
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultEventNotInGuard:
		return "event-not-in-guard"
	case ResultGuardFalse:
		return "guard-false"
	case ResultTargetMissing:
		return "target-missing"
	default:
		return "invalid"
	}
}

// Loop is the compiled definition plus its live collaborators: the timer
// manager, the variable-server adapter, and the evaluator. It tracks
// exactly one current state, guarded by mu so CurrentState can be read
// from outside the dispatch goroutine (adapted from
// chungers-fsm/instance.go's single-reader "reads" channel, simplified to
// a mutex since this loop never runs more than one instance — spec.md's
// "no concurrent execution of multiple machines in one process"
// Non-goal).
type Loop struct {
	def    *statemachine.Definition
	timers *timer.Manager
	vars   varserver.Adapter
	eval   Evaluator
	log    log.Logger

	mu      sync.Mutex
	current *statemachine.State

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	onResult func(from string, kind statemachine.EventKind, id int, result Result, to string)
}

// New returns a Loop ready to Run. logger may be nil, in which case
// log.Nil is used.
func New(def *statemachine.Definition, timers *timer.Manager, vars varserver.Adapter, eval Evaluator, logger log.Logger) *Loop {
	if logger == nil {
		logger = log.Nil
	}
	return &Loop{
		def:    def,
		timers: timers,
		vars:   vars,
		eval:   eval,
		log:    logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// OnResult installs an observer called after every dispatched event, for
// metrics or tests. Must be set before Run.
func (l *Loop) OnResult(fn func(from string, kind statemachine.EventKind, id int, result Result, to string)) {
	l.onResult = fn
}

// CurrentState returns the id of the state the loop currently occupies.
func (l *Loop) CurrentState() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return ""
	}
	return l.current.ID
}

// Run enters "init" (failing hard if the definition has none, per
// spec.md §4.4's pseudocode) and then services events until Stop is
// called. It blocks until the loop exits.
func (l *Loop) Run() error {
	defer close(l.done)

	init, ok := l.def.State(statemachine.InitStateID)
	if !ok {
		return statemachine.ErrMissingInit{}
	}
	if err := l.enter(init); err != nil {
		return err
	}

	var timerCh <-chan timer.Expiration
	if l.timers != nil {
		timerCh = l.timers.Expirations()
	}
	var varCh <-chan varserver.Notification
	if l.vars != nil {
		varCh = l.vars.Notifications()
	}

	for {
		select {
		case <-l.stop:
			return nil

		case exp, ok := <-timerCh:
			if !ok {
				timerCh = nil
				continue
			}
			l.dispatch(statemachine.Event{Kind: statemachine.EventTimer, ID: exp.ID})

		case note, ok := <-varCh:
			if !ok {
				varCh = nil
				continue
			}
			l.dispatch(statemachine.Event{Kind: statemachine.EventVariable, ID: note.Handle})
		}
	}
}

// Stop ends Run's loop at its next suspension point. Safe to call more
// than once or before Run starts.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

// dispatch sets the active-timer register (spec.md §4.4 step 1), runs
// handle, and clears the register again — the single-writer/single-reader
// discipline spec.md §5 calls for.
func (l *Loop) dispatch(event statemachine.Event) {
	if event.Kind == statemachine.EventTimer {
		l.eval.SetActiveTimer(event.ID)
	}
	from := l.CurrentState()
	result, to := l.handle(event)
	if event.Kind == statemachine.EventTimer {
		l.eval.SetActiveTimer(0)
	}
	l.log.Debug("dispatch", "from", from, "event", event.Kind.String(), "id", event.ID, "result", result.String(), "to", to)
	if l.onResult != nil {
		l.onResult(from, event.Kind, event.ID, result, to)
	}
}

// handle implements spec.md §4.4's handle(kind, id): iterate the current
// state's transitions in order, testing each against the guard matcher
// before ever evaluating it, firing at most one.
func (l *Loop) handle(event statemachine.Event) (Result, string) {
	l.mu.Lock()
	current := l.current
	l.mu.Unlock()

	if current == nil {
		return ResultInvalid, ""
	}

	matched := false
	for _, t := range current.Transitions {
		if !guard.Matches(event, t.Guard) {
			continue
		}
		matched = true

		ok, err := l.eval.EvalGuard(t.Guard)
		if err != nil {
			l.log.Error("guard evaluation failed", "state", current.ID, "line", t.Line, "err", err)
			continue
		}
		if !ok {
			continue
		}

		if err := l.eval.EvalBlock(current.Exit.Locals, current.Exit.Stmts); err != nil {
			l.log.Error("exit block failed", "state", current.ID, "err", err)
		}

		next, ok := l.def.State(t.Target)
		if !ok {
			err := statemachine.ErrTargetNotFound{From: current.ID, Target: t.Target}
			l.log.Error(err.Error(), "line", t.Line)
			return ResultTargetMissing, current.ID
		}

		if err := l.enter(next); err != nil {
			l.log.Error("entry block failed", "state", next.ID, "err", err)
		}
		return ResultOK, next.ID
	}

	if matched {
		return ResultGuardFalse, current.ID
	}
	return ResultEventNotInGuard, current.ID
}

// enter sets current and runs its entry block.
func (l *Loop) enter(s *statemachine.State) error {
	l.mu.Lock()
	l.current = s
	l.mu.Unlock()
	return l.eval.EvalBlock(s.Entry.Locals, s.Entry.Stmts)
}
