package guard

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orkestr8/statemachine"
	"github.com/orkestr8/statemachine/lang/ast"
)

func TestMatchesTimerNode(t *testing.T) {
	guardTree := &ast.Node{
		Op:    ast.OpEq,
		Left:  &ast.Node{Op: ast.OpTimer, Value: ast.Value{Kind: ast.KindInt, Int: 3}},
		Right: &ast.Node{Op: ast.OpActiveTimer},
	}

	require.True(t, Matches(statemachine.Event{Kind: statemachine.EventTimer, ID: 3}, guardTree))
	require.False(t, Matches(statemachine.Event{Kind: statemachine.EventTimer, ID: 4}, guardTree))
	require.False(t, Matches(statemachine.Event{Kind: statemachine.EventVariable, ID: 3}, guardTree))
}

func TestMatchesSysvarNode(t *testing.T) {
	guardTree := &ast.Node{
		Op:    ast.OpEq,
		Left:  &ast.Node{Op: ast.OpSysvar, Handle: 5},
		Right: &ast.Node{Op: ast.OpLiteral, Value: ast.Value{Kind: ast.KindInt, Int: 1}},
	}

	require.True(t, Matches(statemachine.Event{Kind: statemachine.EventVariable, ID: 5}, guardTree))
	require.False(t, Matches(statemachine.Event{Kind: statemachine.EventVariable, ID: 6}, guardTree))
}

func TestMatchesUnrelatedVariableIsIgnored(t *testing.T) {
	// A guard on /sys/other must not fire on notifications about a
	// different handle, even though both are EventVariable events.
	guardTree := &ast.Node{Op: ast.OpSysvar, Handle: 1}
	require.False(t, Matches(statemachine.Event{Kind: statemachine.EventVariable, ID: 99}, guardTree))
}

func TestMatchesRecursesIntoBothSubtrees(t *testing.T) {
	guardTree := &ast.Node{
		Op:   ast.OpAnd,
		Left: &ast.Node{Op: ast.OpSysvar, Handle: 1},
		Right: &ast.Node{
			Op:    ast.OpEq,
			Left:  &ast.Node{Op: ast.OpSysvar, Handle: 2},
			Right: &ast.Node{Op: ast.OpLiteral, Value: ast.Value{Kind: ast.KindInt, Int: 1}},
		},
	}
	require.True(t, Matches(statemachine.Event{Kind: statemachine.EventVariable, ID: 2}, guardTree))
}

func TestMatchesNilGuard(t *testing.T) {
	require.False(t, Matches(statemachine.Event{Kind: statemachine.EventTimer, ID: 1}, nil))
}
