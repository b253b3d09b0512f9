package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tkallio/rivet/engine"
)

// ---------------------------------------------------------------------------
// AST
// ---------------------------------------------------------------------------

// Node is one expression tree node.
type Node interface{}

// Lit is a literal value.
type Lit struct {
	Val engine.Value
}

// Ident is a bare identifier.
type Ident struct {
	Name string
}

// Member is a dotted member access.
type Member struct {
	X    Node
	Name string
}

// Index is an array subscript.
type Index struct {
	X Node
	I Node
}

// Unary is a prefix operation: "-" or "NOT".
type Unary struct {
	Op string
	X  Node
}

// Binary is an infix operation.
type Binary struct {
	Op   string
	L, R Node
}

// ---------------------------------------------------------------------------
// Parser (precedence climbing)
// ---------------------------------------------------------------------------

type parser struct {
	toks  []token
	pos   int
	types *engine.TypeRegistry
}

// Parse parses one ST expression. Typed literal prefixes are checked
// against the type registry.
func Parse(src string, types *engine.TypeRegistry) (Node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, types: types}
	n, err := p.parseBinary(1)
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q after expression", p.peek().text)
	}
	return n, nil
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) take() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// binding powers, loosest first
func precedence(op string) int {
	switch op {
	case "OR":
		return 1
	case "XOR":
		return 2
	case "AND":
		return 3
	case "=", "<>", "<", "<=", ">", ">=":
		return 4
	case "+", "-":
		return 5
	case "*", "/", "MOD":
		return 6
	}
	return 0
}

func (p *parser) binaryOp() (string, bool) {
	t := p.peek()
	switch t.kind {
	case tokOp:
		if precedence(t.text) > 0 {
			return t.text, true
		}
	case tokIdent:
		up := strings.ToUpper(t.text)
		if up == "AND" || up == "OR" || up == "XOR" || up == "MOD" {
			return up, true
		}
	}
	return "", false
}

func (p *parser) parseBinary(minPrec int) (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.binaryOp()
		if !ok || precedence(op) < minPrec {
			return left, nil
		}
		p.take()
		right, err := p.parseBinary(precedence(op) + 1)
		if err != nil {
			return nil, err
		}
		left = Binary{Op: op, L: left, R: right}
	}
}

func (p *parser) parseUnary() (Node, error) {
	t := p.peek()
	if t.kind == tokOp && t.text == "-" {
		p.take()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Unary{Op: "-", X: x}, nil
	}
	if t.kind == tokIdent && strings.ToUpper(t.text) == "NOT" {
		p.take()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Unary{Op: "NOT", X: x}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Node, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp {
			return x, nil
		}
		switch t.text {
		case ".":
			p.take()
			name := p.take()
			if name.kind != tokIdent {
				return nil, fmt.Errorf("expected member name after '.'")
			}
			x = Member{X: x, Name: name.text}
		case "[":
			p.take()
			idx, err := p.parseBinary(1)
			if err != nil {
				return nil, err
			}
			if close := p.take(); close.kind != tokOp || close.text != "]" {
				return nil, fmt.Errorf("expected ']'")
			}
			x = Index{X: x, I: idx}
		default:
			return x, nil
		}
	}
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.take()
	switch t.kind {
	case tokInt:
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad integer literal %q", t.text)
		}
		return Lit{Val: engine.IntValue("DINT", n)}, nil
	case tokReal:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad real literal %q", t.text)
		}
		return Lit{Val: engine.RealValue("LREAL", f)}, nil
	case tokString:
		return Lit{Val: engine.StringValue(t.text)}, nil
	case tokTime:
		d, err := engine.ParseIECDuration(t.text)
		if err != nil {
			return nil, err
		}
		return Lit{Val: engine.TimeValue(d)}, nil
	case tokIdent:
		up := strings.ToUpper(t.text)
		if up == "TRUE" {
			return Lit{Val: engine.BoolValue(true)}, nil
		}
		if up == "FALSE" {
			return Lit{Val: engine.BoolValue(false)}, nil
		}
		if typ, payload, ok := strings.Cut(t.text, "#"); ok {
			return p.typedLiteral(typ, payload)
		}
		return Ident{Name: t.text}, nil
	case tokOp:
		if t.text == "(" {
			inner, err := p.parseBinary(1)
			if err != nil {
				return nil, err
			}
			if close := p.take(); close.kind != tokOp || close.text != ")" {
				return nil, fmt.Errorf("expected ')'")
			}
			return inner, nil
		}
	}
	return nil, fmt.Errorf("unexpected %q", t.text)
}

// typedLiteral resolves a TYPE#payload literal against the registry.
func (p *parser) typedLiteral(typ, payload string) (Node, error) {
	info, ok := p.types.Lookup(typ)
	if !ok {
		return nil, fmt.Errorf("unknown type %q in literal", typ)
	}
	switch info.Kind {
	case engine.KindInt:
		n, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad %s literal %q", typ, payload)
		}
		return Lit{Val: engine.IntValue(typ, n)}, nil
	case engine.KindReal:
		f, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			return nil, fmt.Errorf("bad %s literal %q", typ, payload)
		}
		return Lit{Val: engine.RealValue(typ, f)}, nil
	case engine.KindBool:
		switch strings.ToUpper(payload) {
		case "TRUE", "1":
			return Lit{Val: engine.BoolValue(true)}, nil
		case "FALSE", "0":
			return Lit{Val: engine.BoolValue(false)}, nil
		}
		return nil, fmt.Errorf("bad BOOL literal %q", payload)
	case engine.KindTime:
		d, err := engine.ParseIECDuration(payload)
		if err != nil {
			return nil, err
		}
		return Lit{Val: engine.TimeValue(d)}, nil
	}
	return nil, fmt.Errorf("type %q not usable in a literal", typ)
}
