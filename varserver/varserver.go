// Package varserver defines the variable-server adapter contract
// (spec.md §4.7) and two concrete adapters: an in-memory one for tests
// and standalone examples, and a NATS-backed one for real deployments.
package varserver

import (
	"errors"

	"github.com/orkestr8/statemachine/lang/ast"
)

// Invalid is the sentinel handle returned by FindByName when a path does
// not resolve to a known variable.
const Invalid = -1

// ErrNotFound is returned by FindByName for an unknown path.
var ErrNotFound = errors.New("variable not found")

// Notification is delivered whenever a subscribed variable is modified;
// Handle matches the value returned by FindByName for that variable.
type Notification struct {
	Handle int
}

// Adapter is the contract the core consumes from the external variable
// server: open/close, find-by-name, get/set, and subscribe. No
// assumptions are made about transport.
type Adapter interface {
	Open() error
	Close() error

	// FindByName resolves a path like "/sys/alarm/armed" to an opaque
	// handle, or ErrNotFound.
	FindByName(path string) (int, error)

	Get(handle int) (ast.Value, error)
	Set(handle int, v ast.Value) error

	// SubscribeModifications arranges for future modifications to handle
	// to be delivered on Notifications().
	SubscribeModifications(handle int) error

	// Notifications is the channel modification notices are delivered on.
	Notifications() <-chan Notification
}
