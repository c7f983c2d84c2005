package varserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orkestr8/statemachine/lang/ast"
)

func TestMemorySeedAndFindByName(t *testing.T) {
	m := NewMemory()
	h := m.Seed("/sys/alarm/armed", ast.Value{Kind: ast.KindInt, Int: 1})

	found, err := m.FindByName("/sys/alarm/armed")
	require.NoError(t, err)
	require.Equal(t, h, found)

	_, err = m.FindByName("/sys/unknown")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryGetSet(t *testing.T) {
	m := NewMemory()
	h := m.Seed("/sys/x", ast.Value{Kind: ast.KindInt, Int: 0})

	require.NoError(t, m.Set(h, ast.Value{Kind: ast.KindInt, Int: 5}))
	v, err := m.Get(h)
	require.NoError(t, err)
	require.Equal(t, int64(5), v.Int)
}

func TestMemorySubscriptionDeliversNotification(t *testing.T) {
	m := NewMemory()
	h := m.Seed("/sys/y", ast.Value{Kind: ast.KindInt, Int: 0})
	require.NoError(t, m.SubscribeModifications(h))

	require.NoError(t, m.Set(h, ast.Value{Kind: ast.KindInt, Int: 1}))

	select {
	case n := <-m.Notifications():
		require.Equal(t, h, n.Handle)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestMemorySetWithoutSubscriptionDoesNotNotify(t *testing.T) {
	m := NewMemory()
	h := m.Seed("/sys/z", ast.Value{Kind: ast.KindInt, Int: 0})

	require.NoError(t, m.Set(h, ast.Value{Kind: ast.KindInt, Int: 9}))

	select {
	case n := <-m.Notifications():
		t.Fatalf("unexpected notification: %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemorySetUnknownHandleFails(t *testing.T) {
	m := NewMemory()
	require.ErrorIs(t, m.Set(999, ast.Value{}), ErrNotFound)
}
