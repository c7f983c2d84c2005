package eval

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orkestr8/statemachine/lang/ast"
	"github.com/orkestr8/statemachine/timer"
)

type fakeVarServer struct {
	values map[int]ast.Value
}

func newFakeVarServer() *fakeVarServer { return &fakeVarServer{values: map[int]ast.Value{}} }

func (f *fakeVarServer) Get(handle int) (ast.Value, error) { return f.values[handle], nil }
func (f *fakeVarServer) Set(handle int, v ast.Value) error { f.values[handle] = v; return nil }

type fakeTimers struct {
	created []int
	deleted []int
	ticked  []int
}

// invalidTimerID reports whether id is outside the manager's valid [1,254] range,
// mirroring timer.Manager's own check so callers can exercise the
// not-found path without a real manager.
func invalidTimerID(id int) bool { return id < 1 || id > 254 }

func (f *fakeTimers) CreateOneShot(id, ms int) error {
	if invalidTimerID(id) {
		return timer.ErrInvalidID
	}
	f.created = append(f.created, id)
	return nil
}

func (f *fakeTimers) CreateTick(id, ms int) error {
	if invalidTimerID(id) {
		return timer.ErrInvalidID
	}
	f.ticked = append(f.ticked, id)
	return nil
}

func (f *fakeTimers) Delete(id int) error {
	if invalidTimerID(id) {
		return timer.ErrInvalidID
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func lit(k ast.Kind, i int64, f float64, s string) *ast.Node {
	return &ast.Node{Op: ast.OpLiteral, Value: ast.Value{Kind: k, Int: i, Flt: f, Str: s}}
}

func intLit(i int64) *ast.Node   { return lit(ast.KindInt, i, 0, "") }
func floatLit(f float64) *ast.Node { return lit(ast.KindFloat, 0, f, "") }

func TestEvalArithmeticPromotion(t *testing.T) {
	e := New(newFakeVarServer(), &fakeTimers{})
	node := &ast.Node{Op: ast.OpAdd, Left: intLit(2), Right: floatLit(0.5)}
	v, err := e.eval(nil, node)
	require.NoError(t, err)
	require.Equal(t, ast.KindFloat, v.Kind)
	require.Equal(t, 2.5, v.Flt)
}

func TestEvalGuardTruthiness(t *testing.T) {
	e := New(newFakeVarServer(), &fakeTimers{})
	node := &ast.Node{Op: ast.OpEq, Left: intLit(1), Right: intLit(1)}
	ok, err := e.EvalGuard(node)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEvalLocalAssignmentAndIncrement(t *testing.T) {
	e := New(newFakeVarServer(), &fakeTimers{})
	decls := []ast.Decl{{Name: "x", Type: ast.KindInt}}
	assign := &ast.Node{Op: ast.OpAssign, Left: &ast.Node{Op: ast.OpLocal, Name: "x"}, Right: intLit(10)}
	inc := &ast.Node{Op: ast.OpInc, Left: &ast.Node{Op: ast.OpLocal, Name: "x"}}

	err := e.EvalBlock(decls, []*ast.Node{assign, inc})
	require.NoError(t, err)
}

func TestEvalSysvarReadWrite(t *testing.T) {
	vs := newFakeVarServer()
	e := New(vs, &fakeTimers{})
	sysvar := &ast.Node{Op: ast.OpSysvar, Handle: 7}
	assign := &ast.Node{Op: ast.OpAssign, Left: sysvar, Right: intLit(42)}

	_, err := e.eval(nil, assign)
	require.NoError(t, err)
	require.Equal(t, int64(42), vs.values[7].Int)
}

func TestEvalCreateAndDeleteTimer(t *testing.T) {
	timers := &fakeTimers{}
	e := New(newFakeVarServer(), timers)
	create := &ast.Node{Op: ast.OpCreateTimer, Left: intLit(3), Right: intLit(1000)}
	del := &ast.Node{Op: ast.OpDeleteTimer, Left: intLit(3)}

	_, err := e.eval(nil, create)
	require.NoError(t, err)
	_, err = e.eval(nil, del)
	require.NoError(t, err)
	require.Equal(t, []int{3}, timers.created)
	require.Equal(t, []int{3}, timers.deleted)
}

func TestEvalActiveTimerRegister(t *testing.T) {
	e := New(newFakeVarServer(), &fakeTimers{})
	e.SetActiveTimer(9)
	v, err := e.eval(nil, &ast.Node{Op: ast.OpActiveTimer})
	require.NoError(t, err)
	require.Equal(t, int64(9), v.Int)
}

func TestEvalDivisionByZeroIsError(t *testing.T) {
	e := New(newFakeVarServer(), &fakeTimers{})
	node := &ast.Node{Op: ast.OpDiv, Left: intLit(1), Right: intLit(0)}
	_, err := e.eval(nil, node)
	require.Error(t, err)
}

func TestEvalBlockContinuesPastInvalidTimerID(t *testing.T) {
	timers := &fakeTimers{}
	vs := newFakeVarServer()
	e := New(vs, timers)

	badCreate := &ast.Node{Op: ast.OpCreateTimer, Left: intLit(999), Right: intLit(100)}
	sysvar := &ast.Node{Op: ast.OpSysvar, Handle: 1}
	assign := &ast.Node{Op: ast.OpAssign, Left: sysvar, Right: intLit(7)}
	badDelete := &ast.Node{Op: ast.OpDeleteTimer, Left: intLit(0)}

	err := e.EvalBlock(nil, []*ast.Node{badCreate, assign, badDelete})
	require.NoError(t, err)
	require.Empty(t, timers.created)
	require.Empty(t, timers.deleted)
	require.Equal(t, int64(7), vs.values[1].Int)
}

func TestEvalIfElse(t *testing.T) {
	e := New(newFakeVarServer(), &fakeTimers{})
	decls := []ast.Decl{{Name: "out", Type: ast.KindInt}}
	ifNode := &ast.Node{
		Op:   ast.OpIf,
		Left: &ast.Node{Op: ast.OpEq, Left: intLit(1), Right: intLit(2)},
		Right: &ast.Node{
			Op:    ast.OpElse,
			Left:  &ast.Node{Op: ast.OpAssign, Left: &ast.Node{Op: ast.OpLocal, Name: "out"}, Right: intLit(1)},
			Right: &ast.Node{Op: ast.OpAssign, Left: &ast.Node{Op: ast.OpLocal, Name: "out"}, Right: intLit(2)},
		},
	}
	err := e.EvalBlock(decls, []*ast.Node{ifNode})
	require.NoError(t, err)
}
