// Package eval is the expression evaluator the design treats as an
// external collaborator ("the action library") and specifies only by
// contract (spec.md §4.6). This is a concrete tree-walking
// implementation of that contract.
package eval

import (
	"errors"
	"fmt"

	"github.com/orkestr8/statemachine/lang/ast"
	"github.com/orkestr8/statemachine/log"
	"github.com/orkestr8/statemachine/timer"
)

// VarServer is the slice of the variable-server adapter the evaluator
// needs: read and write by handle. See package varserver for the full
// contract.
type VarServer interface {
	Get(handle int) (ast.Value, error)
	Set(handle int, v ast.Value) error
}

// TimerService is the slice of the timer manager the evaluator needs to
// implement CREATE_TIMER/CREATE_TICK/DELETE_TIMER.
type TimerService interface {
	CreateOneShot(id, ms int) error
	CreateTick(id, ms int) error
	Delete(id int) error
}

// Evaluator walks an expression tree against a variable server and timer
// service, maintaining the single "active timer" register the runtime
// writes once per event (spec.md §4.4, §4.6).
type Evaluator struct {
	VS     VarServer
	Timers TimerService
	Shell  ShellRunner
	Log    log.Logger

	// ActiveTimer is set by the runtime before dispatching an event and
	// cleared after (single-writer/single-reader, per spec.md §5).
	ActiveTimer int
}

// New returns an Evaluator wired to a variable server and timer service,
// with the default sh-backed shell runner.
func New(vs VarServer, timers TimerService) *Evaluator {
	return &Evaluator{VS: vs, Timers: timers, Shell: execShell{}}
}

// SetActiveTimer writes the active-timer register. The runtime loop calls
// this with the firing timer's id before dispatching a timer event, and
// with 0 immediately after (spec.md §4.4 step 1, §5's
// single-writer/single-reader discipline).
func (e *Evaluator) SetActiveTimer(id int) {
	e.ActiveTimer = id
}

// locals is the block-scoped variable table, recreated each time an
// entry/exit block runs (spec.md §3's LocalDecl/assigned notion).
type locals struct {
	values   map[string]ast.Value
	assigned map[string]bool
}

func newLocals(decls []ast.Decl) *locals {
	l := &locals{values: map[string]ast.Value{}, assigned: map[string]bool{}}
	for _, d := range decls {
		l.values[d.Name] = zeroValue(d.Type)
	}
	return l
}

// EvalBlock runs a declaration list followed by a statement list once,
// against a fresh local scope. A timer action naming an out-of-range id
// is reported as not-found to the caller and the block continues past it
// (spec.md §7); any other error aborts the block.
func (e *Evaluator) EvalBlock(decls []ast.Decl, stmts []*ast.Node) error {
	l := newLocals(decls)
	for _, s := range stmts {
		if _, err := e.eval(l, s); err != nil {
			if errors.Is(err, timer.ErrInvalidID) {
				if e.Log != nil {
					e.Log.Error("timer action failed", "line", s.Line, "err", err)
				}
				continue
			}
			return err
		}
	}
	return nil
}

// EvalGuard evaluates a guard expression and reports whether it is true.
// Guards live in the transition list, outside any entry/exit block, so
// they never see local declarations.
func (e *Evaluator) EvalGuard(node *ast.Node) (bool, error) {
	v, err := e.eval(nil, node)
	if err != nil {
		return false, err
	}
	return v.Truthy(), nil
}

func (e *Evaluator) eval(l *locals, n *ast.Node) (ast.Value, error) {
	if n == nil {
		return ast.Value{}, nil
	}

	switch n.Op {
	case ast.OpLiteral:
		return n.Value, nil

	case ast.OpLocal:
		if l == nil {
			return ast.Value{}, fmt.Errorf("local %q referenced outside a block, line %d", n.Name, n.Line)
		}
		v, ok := l.values[n.Name]
		if !ok {
			return ast.Value{}, fmt.Errorf("undeclared local %q, line %d", n.Name, n.Line)
		}
		return v, nil

	case ast.OpSysvar:
		if e.VS == nil {
			return ast.Value{}, fmt.Errorf("no variable server configured, line %d", n.Line)
		}
		return e.VS.Get(n.Handle)

	case ast.OpActiveTimer:
		return ast.Value{Kind: ast.KindInt, Int: int64(e.ActiveTimer)}, nil

	case ast.OpTimer:
		// Ordinarily rewritten away by the parser into (n == ACTIVE_TIMER);
		// retained as a literal for the guard matcher and for direct eval.
		return n.Value, nil

	case ast.OpNot:
		v, err := e.eval(l, n.Left)
		if err != nil {
			return ast.Value{}, err
		}
		return boolValue(!v.Truthy()), nil

	case ast.OpInc, ast.OpDec:
		return e.evalIncDec(l, n)

	case ast.OpToFloat, ast.OpToInt, ast.OpToShort, ast.OpToString:
		v, err := e.eval(l, n.Left)
		if err != nil {
			return ast.Value{}, err
		}
		return cast(v, n.Op), nil

	case ast.OpIf:
		return e.evalIf(l, n)

	case ast.OpBlock:
		var last ast.Value
		for _, s := range n.Stmts {
			v, err := e.eval(l, s)
			if err != nil {
				return ast.Value{}, err
			}
			last = v
		}
		return last, nil

	case ast.OpCreateTimer, ast.OpCreateTick:
		return e.evalCreateTimer(l, n)

	case ast.OpDeleteTimer:
		return e.evalDeleteTimer(l, n)

	case ast.OpShell:
		e.runShell(n.Value.Str)
		return ast.Value{}, nil

	case ast.OpAssign, ast.OpAddAssign, ast.OpSubAssign, ast.OpMulAssign,
		ast.OpDivAssign, ast.OpAndAssign, ast.OpOrAssign, ast.OpXorAssign:
		return e.evalAssign(l, n)

	case ast.OpAnd:
		lv, err := e.eval(l, n.Left)
		if err != nil {
			return ast.Value{}, err
		}
		if !lv.Truthy() {
			return boolValue(false), nil
		}
		rv, err := e.eval(l, n.Right)
		if err != nil {
			return ast.Value{}, err
		}
		return boolValue(rv.Truthy()), nil

	case ast.OpOr:
		lv, err := e.eval(l, n.Left)
		if err != nil {
			return ast.Value{}, err
		}
		if lv.Truthy() {
			return boolValue(true), nil
		}
		rv, err := e.eval(l, n.Right)
		if err != nil {
			return ast.Value{}, err
		}
		return boolValue(rv.Truthy()), nil

	default:
		return e.evalBinary(l, n)
	}
}

func (e *Evaluator) evalIf(l *locals, n *ast.Node) (ast.Value, error) {
	cond, err := e.eval(l, n.Left)
	if err != nil {
		return ast.Value{}, err
	}
	branches := n.Right // Op == OpElse: Left == then-branch, Right == else-branch (maybe nil)
	if cond.Truthy() {
		return e.eval(l, branches.Left)
	}
	if branches.Right != nil {
		return e.eval(l, branches.Right)
	}
	return ast.Value{}, nil
}

func (e *Evaluator) evalBinary(l *locals, n *ast.Node) (ast.Value, error) {
	lv, err := e.eval(l, n.Left)
	if err != nil {
		return ast.Value{}, err
	}
	rv, err := e.eval(l, n.Right)
	if err != nil {
		return ast.Value{}, err
	}

	k := promote(lv, rv)
	switch n.Op {
	case ast.OpAdd:
		if k == ast.KindString {
			return ast.Value{Kind: ast.KindString, Str: stringOf(lv) + stringOf(rv)}, nil
		}
		return numeric(k, asFloat(lv)+asFloat(rv), asInt(lv)+asInt(rv)), nil
	case ast.OpSub:
		return numeric(k, asFloat(lv)-asFloat(rv), asInt(lv)-asInt(rv)), nil
	case ast.OpMul:
		return numeric(k, asFloat(lv)*asFloat(rv), asInt(lv)*asInt(rv)), nil
	case ast.OpDiv:
		if k == ast.KindFloat {
			return ast.Value{Kind: ast.KindFloat, Flt: asFloat(lv) / asFloat(rv)}, nil
		}
		rd := asInt(rv)
		if rd == 0 {
			return ast.Value{}, fmt.Errorf("division by zero, line %d", n.Line)
		}
		return numeric(k, 0, asInt(lv)/rd), nil
	case ast.OpEq:
		return boolValue(equalValues(lv, rv)), nil
	case ast.OpNeq:
		return boolValue(!equalValues(lv, rv)), nil
	case ast.OpLt:
		return boolValue(compareValues(lv, rv) < 0), nil
	case ast.OpGt:
		return boolValue(compareValues(lv, rv) > 0), nil
	case ast.OpLte:
		return boolValue(compareValues(lv, rv) <= 0), nil
	case ast.OpGte:
		return boolValue(compareValues(lv, rv) >= 0), nil
	case ast.OpBand:
		return intValue(asInt(lv) & asInt(rv)), nil
	case ast.OpBor:
		return intValue(asInt(lv) | asInt(rv)), nil
	case ast.OpXor:
		return intValue(asInt(lv) ^ asInt(rv)), nil
	case ast.OpLshift:
		return intValue(asInt(lv) << uint(asInt(rv))), nil
	case ast.OpRshift:
		return intValue(asInt(lv) >> uint(asInt(rv))), nil
	default:
		return ast.Value{}, fmt.Errorf("unsupported operator, line %d", n.Line)
	}
}

func (e *Evaluator) evalIncDec(l *locals, n *ast.Node) (ast.Value, error) {
	cur, err := e.eval(l, n.Left)
	if err != nil {
		return ast.Value{}, err
	}
	delta := int64(1)
	if n.Op == ast.OpDec {
		delta = -1
	}
	var next ast.Value
	if cur.Kind == ast.KindFloat {
		next = ast.Value{Kind: ast.KindFloat, Flt: cur.Flt + float64(delta)}
	} else {
		next = numeric(cur.Kind, 0, asInt(cur)+delta)
	}
	if err := e.assignTo(l, n.Left, next); err != nil {
		return ast.Value{}, err
	}
	return next, nil
}

func (e *Evaluator) evalAssign(l *locals, n *ast.Node) (ast.Value, error) {
	rv, err := e.eval(l, n.Right)
	if err != nil {
		return ast.Value{}, err
	}
	if n.Op == ast.OpAssign {
		if err := e.assignTo(l, n.Left, rv); err != nil {
			return ast.Value{}, err
		}
		return rv, nil
	}

	cur, err := e.eval(l, n.Left)
	if err != nil {
		return ast.Value{}, err
	}
	k := promote(cur, rv)

	var result ast.Value
	switch n.Op {
	case ast.OpAddAssign:
		result = numeric(k, asFloat(cur)+asFloat(rv), asInt(cur)+asInt(rv))
	case ast.OpSubAssign:
		result = numeric(k, asFloat(cur)-asFloat(rv), asInt(cur)-asInt(rv))
	case ast.OpMulAssign:
		result = numeric(k, asFloat(cur)*asFloat(rv), asInt(cur)*asInt(rv))
	case ast.OpDivAssign:
		if k == ast.KindFloat {
			result = ast.Value{Kind: ast.KindFloat, Flt: asFloat(cur) / asFloat(rv)}
		} else {
			rd := asInt(rv)
			if rd == 0 {
				return ast.Value{}, fmt.Errorf("division by zero, line %d", n.Line)
			}
			result = numeric(k, 0, asInt(cur)/rd)
		}
	case ast.OpAndAssign:
		result = intValue(asInt(cur) & asInt(rv))
	case ast.OpOrAssign:
		result = intValue(asInt(cur) | asInt(rv))
	case ast.OpXorAssign:
		result = intValue(asInt(cur) ^ asInt(rv))
	default:
		return ast.Value{}, fmt.Errorf("unsupported assignment operator, line %d", n.Line)
	}

	if err := e.assignTo(l, n.Left, result); err != nil {
		return ast.Value{}, err
	}
	return result, nil
}

func (e *Evaluator) assignTo(l *locals, target *ast.Node, v ast.Value) error {
	switch target.Op {
	case ast.OpLocal:
		if l == nil {
			return fmt.Errorf("assignment to local %q outside a block, line %d", target.Name, target.Line)
		}
		l.values[target.Name] = v
		l.assigned[target.Name] = true
		return nil
	case ast.OpSysvar:
		if e.VS == nil {
			return fmt.Errorf("no variable server configured, line %d", target.Line)
		}
		return e.VS.Set(target.Handle, v)
	default:
		return fmt.Errorf("invalid assignment target, line %d", target.Line)
	}
}

func (e *Evaluator) evalCreateTimer(l *locals, n *ast.Node) (ast.Value, error) {
	idv, err := e.eval(l, n.Left)
	if err != nil {
		return ast.Value{}, err
	}
	msv, err := e.eval(l, n.Right)
	if err != nil {
		return ast.Value{}, err
	}
	if e.Timers == nil {
		return ast.Value{}, fmt.Errorf("no timer service configured, line %d", n.Line)
	}
	id, ms := int(asInt(idv)), int(asInt(msv))
	if n.Op == ast.OpCreateTick {
		return ast.Value{}, e.Timers.CreateTick(id, ms)
	}
	return ast.Value{}, e.Timers.CreateOneShot(id, ms)
}

func (e *Evaluator) evalDeleteTimer(l *locals, n *ast.Node) (ast.Value, error) {
	idv, err := e.eval(l, n.Left)
	if err != nil {
		return ast.Value{}, err
	}
	if e.Timers == nil {
		return ast.Value{}, fmt.Errorf("no timer service configured, line %d", n.Line)
	}
	return ast.Value{}, e.Timers.Delete(int(asInt(idv)))
}

// runShell executes a shell-script literal. Failure is logged, never
// propagated, per spec.md §4.6/§7.
func (e *Evaluator) runShell(script string) {
	if e.Shell == nil {
		return
	}
	if err := e.Shell.Run(script); err != nil && e.Log != nil {
		e.Log.Error("shell script failed", "err", err)
	}
}
