// Package lang implements the lexer and recursive-descent parser for
// state-machine definitions (spec.md §4.1, §4.2): a C-expression
// precedence grammar grafted onto a small block structure, producing a
// statemachine.Definition plus lang/ast expression trees for every guard
// and action statement.
package lang

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/orkestr8/statemachine"
	"github.com/orkestr8/statemachine/lang/ast"
)

// VariableResolver is the slice of the variable-server adapter the
// parser needs to bind SYSVAR references and register guard-modification
// subscriptions as transitions are reduced (spec.md §4.2 "side effect
// during parse"). varserver.Adapter satisfies this interface structurally.
type VariableResolver interface {
	FindByName(path string) (handle int, err error)
	SubscribeModifications(handle int) error
}

// localInfo tracks a declared local's type and whether it has been
// assigned yet, for the non-fatal use-before-assign diagnostic.
type localInfo struct {
	Type     ast.Kind
	Assigned bool
}

// Parser turns definition-file text into a statemachine.Definition.
// Errors do not stop parsing: spec.md §7 requires best-effort recovery so
// that multiple syntax errors can be surfaced from a single pass.
type Parser struct {
	lex *Lexer

	tok  Token
	lit  string
	line int

	resolver VariableResolver
	locals   map[string]*localInfo

	errors []statemachine.ErrSyntax
}

// Parse compiles src into a Definition. resolver may be nil, in which case
// SYSVAR references are left with an invalid handle and no subscriptions
// are attempted — useful for offline validation of a definition file.
func Parse(src string, resolver VariableResolver) (*statemachine.Definition, []statemachine.ErrSyntax) {
	p := &Parser{lex: NewLexer(src), resolver: resolver}
	p.next()
	def := p.parseStateMachine()
	return def, p.errors
}

func (p *Parser) next() {
	p.tok, p.lit, p.line = p.lex.Next()
}

func (p *Parser) errorf(format string, args ...interface{}) {
	p.errorAtf(p.line, format, args...)
}

// errorAtf records a diagnostic against an explicit line rather than the
// parser's current lookahead — needed wherever the check happens after
// the offending token has already been consumed (e.g. walking a guard
// tree once its transition has been fully parsed).
func (p *Parser) errorAtf(line int, format string, args ...interface{}) {
	p.errors = append(p.errors, statemachine.ErrSyntax{Line: line, Message: fmt.Sprintf(format, args...)})
}

// expect consumes the current token if it matches tok, recording a
// diagnostic (but still advancing) if not — this is the parser's entire
// recovery strategy: keep moving forward so later errors are still found.
func (p *Parser) expect(tok Token) string {
	lit := p.lit
	if p.tok != tok {
		p.errorf("expected %v, got %v (%q)", tok, p.tok, p.lit)
	}
	p.next()
	return lit
}

func isTypeKeyword(t Token) bool {
	switch t {
	case TYPE_FLOAT, TYPE_INT, TYPE_SHORT, TYPE_STRING:
		return true
	default:
		return false
	}
}

func kindFor(t Token) ast.Kind {
	switch t {
	case TYPE_FLOAT:
		return ast.KindFloat
	case TYPE_SHORT:
		return ast.KindShort
	case TYPE_STRING:
		return ast.KindString
	default:
		return ast.KindInt
	}
}

// --- grammar ---

func (p *Parser) parseStateMachine() *statemachine.Definition {
	p.expect(STATEMACHINE)
	p.expect(LBRACE)

	p.expect(NAME)
	p.expect(COLON)
	name := p.expect(STRING)

	p.expect(DESCRIPTION)
	p.expect(COLON)
	desc := p.expect(STRING)

	def := statemachine.NewDefinition(name, desc)

	for p.tok == STATE {
		st := p.parseState()
		if err := def.AddState(st); err != nil {
			p.errorf("%v", err)
		}
	}

	p.expect(RBRACE)
	return def
}

func (p *Parser) parseState() *statemachine.State {
	p.expect(STATE)
	id := p.expect(IDENT)
	p.expect(LBRACE)

	st := &statemachine.State{ID: id}

	if p.tok != ENTRY {
		p.errorf("state %q missing entry block", id)
	} else {
		p.expect(ENTRY)
		st.Entry = p.parseBlock()
	}

	if p.tok != TRANSITION {
		p.errorf("state %q missing transition block", id)
	} else {
		p.expect(TRANSITION)
		p.expect(LBRACE)
		for p.tok == IDENT {
			st.Transitions = append(st.Transitions, p.parseTransition())
		}
		p.expect(RBRACE)
	}

	if p.tok != EXIT {
		p.errorf("state %q missing exit block", id)
	} else {
		p.expect(EXIT)
		st.Exit = p.parseBlock()
	}

	p.expect(RBRACE)
	return st
}

func (p *Parser) parseBlock() statemachine.Block {
	p.expect(LBRACE)

	p.locals = map[string]*localInfo{}
	var b statemachine.Block

	for isTypeKeyword(p.tok) {
		b.Locals = append(b.Locals, p.parseDecl())
	}
	for p.tok != RBRACE && p.tok != EOF {
		if stmt := p.parseStatement(); stmt != nil {
			b.Stmts = append(b.Stmts, stmt)
		}
	}
	p.expect(RBRACE)

	p.locals = nil
	return b
}

func (p *Parser) parseDecl() ast.Decl {
	kind := kindFor(p.tok)
	line := p.line
	p.next() // type keyword
	name := p.expect(IDENT)
	p.expect(SEMI)

	p.locals[name] = &localInfo{Type: kind}
	return ast.Decl{Name: name, Type: kind, Line: line}
}

// parseTransition parses "<target> : <guard>" and, per spec.md §4.2,
// registers a modification subscription for every SYSVAR node with a
// valid handle found in the guard — this runs once per transition, so a
// variable referenced by several transitions is subscribed to more than
// once (spec.md §9 Open Question; preserved rather than deduplicated).
func (p *Parser) parseTransition() statemachine.Transition {
	line := p.line
	target := p.expect(IDENT)
	p.expect(COLON)
	guard := p.parseAssignment()
	if p.tok == SEMI {
		p.next()
	}

	p.subscribeGuard(guard)

	return statemachine.Transition{Target: target, Guard: guard, Line: line}
}

func (p *Parser) subscribeGuard(guard *ast.Node) {
	if p.resolver == nil {
		return
	}
	ast.Walk(guard, func(n *ast.Node) {
		if n.Op != ast.OpSysvar || n.Handle < 0 {
			return
		}
		if err := p.resolver.SubscribeModifications(n.Handle); err != nil {
			subErr := statemachine.ErrSubscriptionFailed{Variable: n.Name, Line: n.Line, Cause: err}
			p.errorAtf(n.Line, "%v", subErr)
		}
	})
}

func (p *Parser) parseStatement() *ast.Node {
	if p.tok == IF {
		return p.parseIf()
	}
	expr := p.parseAssignment()
	if p.tok == SEMI {
		p.next()
	} else {
		p.errorf("expected ';' after statement")
	}
	return expr
}

func (p *Parser) parseIf() *ast.Node {
	line := p.line
	p.expect(IF)
	p.expect(LPAREN)
	cond := p.parseAssignment()
	p.expect(RPAREN)

	then := p.parseBraceOrStatement()

	var elseBranch *ast.Node
	if p.tok == ELSE {
		p.next()
		elseBranch = p.parseBraceOrStatement()
	}

	return &ast.Node{
		Op: ast.OpIf, Line: line, Left: cond,
		Right: &ast.Node{Op: ast.OpElse, Line: line, Left: then, Right: elseBranch},
	}
}

func (p *Parser) parseBraceOrStatement() *ast.Node {
	if p.tok != LBRACE {
		return p.parseStatement()
	}
	line := p.line
	p.next()
	var stmts []*ast.Node
	for p.tok != RBRACE && p.tok != EOF {
		if stmt := p.parseStatement(); stmt != nil {
			stmts = append(stmts, stmt)
		}
	}
	p.expect(RBRACE)
	return &ast.Node{Op: ast.OpBlock, Line: line, Stmts: stmts}
}

// --- expressions, lowest to highest precedence ---

func assignOpFor(t Token) (ast.Op, bool) {
	switch t {
	case ASSIGN:
		return ast.OpAssign, true
	case ADD_ASSIGN:
		return ast.OpAddAssign, true
	case SUB_ASSIGN:
		return ast.OpSubAssign, true
	case MUL_ASSIGN:
		return ast.OpMulAssign, true
	case DIV_ASSIGN:
		return ast.OpDivAssign, true
	case AND_ASSIGN:
		return ast.OpAndAssign, true
	case OR_ASSIGN:
		return ast.OpOrAssign, true
	case XOR_ASSIGN:
		return ast.OpXorAssign, true
	default:
		return 0, false
	}
}

func (p *Parser) parseAssignment() *ast.Node {
	left := p.parseLogicalOr()
	if op, ok := assignOpFor(p.tok); ok {
		line := p.line
		p.next()
		right := p.parseAssignment()
		p.markAssigned(left)
		return &ast.Node{Op: op, Left: left, Right: right, Line: line}
	}
	return left
}

func (p *Parser) parseLogicalOr() *ast.Node {
	left := p.parseLogicalAnd()
	for p.tok == LOR {
		line := p.line
		p.next()
		right := p.parseLogicalAnd()
		left = &ast.Node{Op: ast.OpOr, Left: left, Right: right, Line: line}
	}
	return left
}

func (p *Parser) parseLogicalAnd() *ast.Node {
	left := p.parseBitOr()
	for p.tok == LAND {
		line := p.line
		p.next()
		right := p.parseBitOr()
		left = &ast.Node{Op: ast.OpAnd, Left: left, Right: right, Line: line}
	}
	return left
}

func (p *Parser) parseBitOr() *ast.Node {
	left := p.parseBitXor()
	for p.tok == BOR {
		line := p.line
		p.next()
		right := p.parseBitXor()
		left = &ast.Node{Op: ast.OpBor, Left: left, Right: right, Line: line}
	}
	return left
}

func (p *Parser) parseBitXor() *ast.Node {
	left := p.parseBitAnd()
	for p.tok == BXOR {
		line := p.line
		p.next()
		right := p.parseBitAnd()
		left = &ast.Node{Op: ast.OpXor, Left: left, Right: right, Line: line}
	}
	return left
}

func (p *Parser) parseBitAnd() *ast.Node {
	left := p.parseEquality()
	for p.tok == BAND {
		line := p.line
		p.next()
		right := p.parseEquality()
		left = &ast.Node{Op: ast.OpBand, Left: left, Right: right, Line: line}
	}
	return left
}

func (p *Parser) parseEquality() *ast.Node {
	left := p.parseRelational()
	for p.tok == EQ || p.tok == NEQ {
		op := ast.OpEq
		if p.tok == NEQ {
			op = ast.OpNeq
		}
		line := p.line
		p.next()
		right := p.parseRelational()
		left = &ast.Node{Op: op, Left: left, Right: right, Line: line}
	}
	return left
}

func (p *Parser) parseRelational() *ast.Node {
	left := p.parseShift()
	for p.tok == LT || p.tok == GT || p.tok == LTE || p.tok == GTE {
		var op ast.Op
		switch p.tok {
		case LT:
			op = ast.OpLt
		case GT:
			op = ast.OpGt
		case LTE:
			op = ast.OpLte
		case GTE:
			op = ast.OpGte
		}
		line := p.line
		p.next()
		right := p.parseShift()
		left = &ast.Node{Op: op, Left: left, Right: right, Line: line}
	}
	return left
}

func (p *Parser) parseShift() *ast.Node {
	left := p.parseAdditive()
	for p.tok == LSHIFT || p.tok == RSHIFT {
		op := ast.OpLshift
		if p.tok == RSHIFT {
			op = ast.OpRshift
		}
		line := p.line
		p.next()
		right := p.parseAdditive()
		left = &ast.Node{Op: op, Left: left, Right: right, Line: line}
	}
	return left
}

func (p *Parser) parseAdditive() *ast.Node {
	left := p.parseMultiplicative()
	for p.tok == ADD || p.tok == SUB {
		op := ast.OpAdd
		if p.tok == SUB {
			op = ast.OpSub
		}
		line := p.line
		p.next()
		right := p.parseMultiplicative()
		left = &ast.Node{Op: op, Left: left, Right: right, Line: line}
	}
	return left
}

func (p *Parser) parseMultiplicative() *ast.Node {
	left := p.parseUnary()
	for p.tok == MUL || p.tok == DIV {
		op := ast.OpMul
		if p.tok == DIV {
			op = ast.OpDiv
		}
		line := p.line
		p.next()
		right := p.parseUnary()
		left = &ast.Node{Op: op, Left: left, Right: right, Line: line}
	}
	return left
}

func (p *Parser) parseUnary() *ast.Node {
	switch p.tok {
	case NOT:
		line := p.line
		p.next()
		return &ast.Node{Op: ast.OpNot, Left: p.parseUnary(), Line: line}
	case SUB:
		line := p.line
		p.next()
		zero := &ast.Node{Op: ast.OpLiteral, Value: ast.Value{Kind: ast.KindInt}, Line: line}
		return &ast.Node{Op: ast.OpSub, Left: zero, Right: p.parseUnary(), Line: line}
	case INC, DEC:
		op, line := ast.OpInc, p.line
		if p.tok == DEC {
			op = ast.OpDec
		}
		p.next()
		operand := p.parseUnary()
		p.markAssigned(operand)
		return &ast.Node{Op: op, Left: operand, Line: line}
	case TYPE_FLOAT, TYPE_INT, TYPE_SHORT, TYPE_STRING:
		return p.parseCast()
	default:
		return p.parsePostfix()
	}
}

// parseCast implements the four TO_* casts as function-call-shaped
// prefixes, e.g. "int(x)" — the source grammar leaves the exact cast
// syntax unspecified; this is the Open Question resolution recorded in
// DESIGN.md.
func (p *Parser) parseCast() *ast.Node {
	var op ast.Op
	switch p.tok {
	case TYPE_FLOAT:
		op = ast.OpToFloat
	case TYPE_SHORT:
		op = ast.OpToShort
	case TYPE_STRING:
		op = ast.OpToString
	default:
		op = ast.OpToInt
	}
	line := p.line
	p.next()
	p.expect(LPAREN)
	operand := p.parseAssignment()
	p.expect(RPAREN)
	return &ast.Node{Op: op, Left: operand, Line: line}
}

func (p *Parser) parsePostfix() *ast.Node {
	n := p.parsePrimary()
	for p.tok == INC || p.tok == DEC {
		op, line := ast.OpInc, p.line
		if p.tok == DEC {
			op = ast.OpDec
		}
		p.next()
		p.markAssigned(n)
		n = &ast.Node{Op: op, Left: n, Line: line}
	}
	return n
}

func (p *Parser) parsePrimary() *ast.Node {
	line := p.line
	switch p.tok {
	case INT:
		v := parseIntLiteral(p.lit)
		p.next()
		return &ast.Node{Op: ast.OpLiteral, Value: ast.Value{Kind: ast.KindInt, Int: v}, Line: line}

	case FLOAT:
		f, _ := strconv.ParseFloat(p.lit, 64)
		p.next()
		return &ast.Node{Op: ast.OpLiteral, Value: ast.Value{Kind: ast.KindFloat, Flt: f}, Line: line}

	case STRING:
		s := p.lit
		p.next()
		return &ast.Node{Op: ast.OpLiteral, Value: ast.Value{Kind: ast.KindString, Str: s}, Line: line}

	case SHELL:
		s := p.lit
		p.next()
		return &ast.Node{Op: ast.OpShell, Value: ast.Value{Kind: ast.KindString, Str: s}, Line: line}

	case TIMER:
		p.next()
		n := p.expectIntLiteral()
		return &ast.Node{
			Op: ast.OpEq, Line: line,
			Left:  &ast.Node{Op: ast.OpTimer, Value: ast.Value{Kind: ast.KindInt, Int: n}, Line: line},
			Right: &ast.Node{Op: ast.OpActiveTimer, Line: line},
		}

	case CREATE:
		return p.parseCreate(line)

	case DELETE:
		return p.parseDelete(line)

	case IDENT:
		name := p.lit
		p.next()
		return p.resolveIdent(name, line)

	case LPAREN:
		p.next()
		inner := p.parseAssignment()
		p.expect(RPAREN)
		return inner

	default:
		p.errorf("unexpected token %v (%q)", p.tok, p.lit)
		tok := p.tok
		p.next()
		if tok == EOF {
			// don't let a premature EOF spin the caller's loop
			return nil
		}
		return &ast.Node{Op: ast.OpLiteral, Line: line}
	}
}

func (p *Parser) expectIntLiteral() int64 {
	if p.tok != INT {
		p.errorf("expected integer literal after 'timer', got %v", p.tok)
		return 0
	}
	v := parseIntLiteral(p.lit)
	p.next()
	return v
}

// parseCreate parses "create timer <id> <ms>" / "create tick <id> <ms>".
// spec.md §9 notes the original grammar path for CREATE TICK is labeled
// VA_CREATE_TIMER in the reduction code — apparently a typo. This
// reimplementation classifies it as tick creation, per the spec's own
// recommendation, rather than reproducing the mislabeling.
func (p *Parser) parseCreate(line int) *ast.Node {
	p.next() // CREATE
	var op ast.Op
	switch p.tok {
	case TIMER:
		op = ast.OpCreateTimer
	case TICK:
		op = ast.OpCreateTick
	default:
		p.errorf("expected 'timer' or 'tick' after 'create', got %v", p.tok)
		op = ast.OpCreateTimer
	}
	p.next()
	id := p.parseUnary()
	ms := p.parseUnary()
	return &ast.Node{Op: op, Left: id, Right: ms, Line: line}
}

func (p *Parser) parseDelete(line int) *ast.Node {
	p.next() // DELETE
	p.expect(TIMER)
	id := p.parseUnary()
	return &ast.Node{Op: ast.OpDeleteTimer, Left: id, Line: line}
}

// resolveIdent turns a bare identifier into a Node: a SYSVAR reference if
// it is a slash-delimited variable-server path, otherwise a reference to
// a declared local (flagging use-before-assign, non-fatally, per
// spec.md §4.2's "use-before-assign check").
func (p *Parser) resolveIdent(name string, line int) *ast.Node {
	if strings.Contains(name, "/") {
		node := &ast.Node{Op: ast.OpSysvar, Name: name, Line: line, Handle: -1}
		if p.resolver != nil {
			if h, err := p.resolver.FindByName(name); err != nil {
				p.errorAtf(line, "unknown variable %s: %v", name, err)
			} else {
				node.Handle = h
			}
		}
		return node
	}

	info, ok := p.locals[name]
	if !ok {
		p.errorAtf(line, "undeclared identifier %q", name)
		return &ast.Node{Op: ast.OpLocal, Name: name, Line: line}
	}
	// The target of a plain "=" is not read, so it is exempt; compound
	// assignments and ++/-- do read it and are still checked.
	if !info.Assigned && p.tok != ASSIGN {
		p.errorAtf(line, "local %q used before assignment", name)
	}
	return &ast.Node{Op: ast.OpLocal, Name: name, LocalType: info.Type, Line: line}
}

func (p *Parser) markAssigned(n *ast.Node) {
	if n == nil || n.Op != ast.OpLocal {
		return
	}
	if info, ok := p.locals[n.Name]; ok {
		info.Assigned = true
	}
}

func parseIntLiteral(lit string) int64 {
	if strings.HasPrefix(lit, "0x") || strings.HasPrefix(lit, "0X") {
		n, _ := strconv.ParseInt(lit[2:], 16, 64)
		return n
	}
	n, _ := strconv.ParseInt(lit, 10, 64)
	return n
}
