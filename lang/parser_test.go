package lang

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orkestr8/statemachine/lang/ast"
)

// fakeResolver is a minimal VariableResolver for parser tests: it assigns
// handles in first-seen order and records every subscription request
// (including duplicates, per spec.md §9's preserved multiple-subscribe
// quirk).
type fakeResolver struct {
	handles       map[string]int
	next          int
	subscriptions []int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{handles: map[string]int{}, next: 1}
}

func (f *fakeResolver) FindByName(path string) (int, error) {
	if h, ok := f.handles[path]; ok {
		return h, nil
	}
	h := f.next
	f.next++
	f.handles[path] = h
	return h, nil
}

func (f *fakeResolver) SubscribeModifications(handle int) error {
	f.subscriptions = append(f.subscriptions, handle)
	return nil
}

const sample = `
statemachine {
  name: "alarm"
  description: "arms, waits, and alerts"

  state init {
    entry {
      int retries;
      retries = 0;
    }
    transition {
      arming : /sys/alarm/armed == 1;
    }
    exit {
    }
  }

  state arming {
    entry {
      create timer 1 5000;
    }
    transition {
      init : /sys/alarm/armed == 0;
      alerting : timer 1;
    }
    exit {
      delete timer 1;
    }
  }

  state alerting {
    entry {
      ` + "```" + `
echo ALERT
` + "```" + `;
    }
    transition {
      init : /sys/alarm/armed == 0;
    }
    exit {
    }
  }
}
`

func TestParseWellFormedDefinition(t *testing.T) {
	resolver := newFakeResolver()
	def, errs := Parse(sample, resolver)
	require.Empty(t, errs)
	require.True(t, def.HasInit())
	require.NoError(t, def.Validate())

	states := def.States()
	require.Len(t, states, 3)
	require.Equal(t, "init", states[0].ID)

	armed, ok := resolver.handles["/sys/alarm/armed"]
	require.True(t, ok)
	// Referenced in guards of init and arming and alerting: three
	// independent subscribe calls, per transition, not deduplicated.
	require.Equal(t, []int{armed, armed, armed}, resolver.subscriptions)
}

func TestParseTimerRewrite(t *testing.T) {
	resolver := newFakeResolver()
	def, errs := Parse(sample, resolver)
	require.Empty(t, errs)

	arming, ok := def.State("arming")
	require.True(t, ok)

	var guard *ast.Node
	for _, tr := range arming.Transitions {
		if tr.Target == "alerting" {
			guard = tr.Guard
		}
	}
	require.NotNil(t, guard)
	require.Equal(t, ast.OpEq, guard.Op)
	require.Equal(t, ast.OpTimer, guard.Left.Op)
	require.Equal(t, int64(1), guard.Left.Value.Int)
	require.Equal(t, ast.OpActiveTimer, guard.Right.Op)
}

func TestParseMissingInitSurfacesNoHardError(t *testing.T) {
	src := `
statemachine {
  name: "no-init"
  description: "d"
  state foo {
    entry { }
    transition { }
    exit { }
  }
}
`
	def, errs := Parse(src, nil)
	require.Empty(t, errs)
	require.False(t, def.HasInit())
	require.Error(t, def.Validate())
}

func TestParseUndeclaredLocalIsNonFatalDiagnostic(t *testing.T) {
	src := `
statemachine {
  name: "n"
  description: "d"
  state init {
    entry {
      x = 1;
    }
    transition { }
    exit { }
  }
}
`
	def, errs := Parse(src, nil)
	require.NotEmpty(t, errs)
	require.True(t, def.HasInit())
}

func TestParseDanglingElseBindsToNearestIf(t *testing.T) {
	src := `
statemachine {
  name: "n"
  description: "d"
  state init {
    entry {
      int a;
      int b;
      a = 1;
      if (a == 1)
        if (a == 2)
          b = 1;
        else
          b = 2;
    }
    transition { }
    exit { }
  }
}
`
	def, errs := Parse(src, nil)
	require.Empty(t, errs)
	init, _ := def.State("init")
	require.Len(t, init.Entry.Stmts, 2)

	outer := init.Entry.Stmts[1]
	require.Equal(t, ast.OpIf, outer.Op)
	inner := outer.Right.Left
	require.Equal(t, ast.OpIf, inner.Op)
	require.NotNil(t, inner.Right.Right, "else must bind to the inner if")
}

func TestParseCastExpression(t *testing.T) {
	src := `
statemachine {
  name: "n"
  description: "d"
  state init {
    entry {
      float f;
      int i;
      i = 3;
      f = float(i);
    }
    transition { }
    exit { }
  }
}
`
	def, errs := Parse(src, nil)
	require.Empty(t, errs)
	init, _ := def.State("init")
	assign := init.Entry.Stmts[1]
	require.Equal(t, ast.OpAssign, assign.Op)
	require.Equal(t, ast.OpToFloat, assign.Right.Op)
}

func TestParseSyntaxErrorsAccumulateAndContinue(t *testing.T) {
	src := `
statemachine {
  name: "n"
  description: "d"
  state init {
    entry {
      int a
      a = 1;
    }
    transition { }
    exit { }
  }
}
`
	def, errs := Parse(src, nil)
	require.NotEmpty(t, errs)
	require.True(t, def.HasInit())
}
