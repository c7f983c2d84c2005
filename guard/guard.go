// Package guard implements the guard matcher (spec.md §4.5): a recursive
// tree walk that decides whether a given event could possibly make a
// guard true, without evaluating it. This is what keeps a state whose
// guards only reference unrelated variables from firing — or even being
// evaluated — on every incoming notification.
package guard

import (
	"github.com/orkestr8/statemachine"
	"github.com/orkestr8/statemachine/lang/ast"
)

// Matches reports whether event (kind, id) is referenced anywhere in the
// guard expression tree rooted at node. A TIMER literal matches a timer
// event with the same id; a SYSVAR node matches a variable event with the
// same handle. Either subtree matching is sufficient.
func Matches(event statemachine.Event, node *ast.Node) bool {
	if node == nil {
		return false
	}

	switch node.Op {
	case ast.OpTimer:
		if event.Kind == statemachine.EventTimer && int(node.Value.Int) == event.ID {
			return true
		}
	case ast.OpSysvar:
		if event.Kind == statemachine.EventVariable && node.Handle == event.ID {
			return true
		}
	}

	if Matches(event, node.Left) {
		return true
	}
	return Matches(event, node.Right)
}
