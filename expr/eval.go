package expr

import (
	"fmt"

	"github.com/tkallio/rivet/engine"
)

// Env is the evaluation environment: a cloned storage plus the
// visibility context of the selected frame. Resolution order for a
// bare identifier: frame locals, owning instance fields,
// namespace-qualified globals, globals, retain.
type Env struct {
	Storage    *engine.Storage
	Locals     *engine.VarTable // may be nil
	Instance   *engine.Instance // may be nil
	Namespaces []string
}

// Eval evaluates a parsed expression. It never mutates the
// environment.
func Eval(n Node, env *Env) (engine.Value, error) {
	switch node := n.(type) {
	case Lit:
		return node.Val, nil
	case Ident:
		v, ok := env.lookup(node.Name)
		if !ok {
			return engine.Value{}, fmt.Errorf("unknown variable %q", node.Name)
		}
		return v, nil
	case Member:
		return evalMember(node, env)
	case Index:
		return evalIndex(node, env)
	case Unary:
		return evalUnary(node, env)
	case Binary:
		return evalBinary(node, env)
	}
	return engine.Value{}, fmt.Errorf("internal: unknown node %T", n)
}

func (env *Env) lookup(name string) (engine.Value, bool) {
	if env.Locals != nil {
		if v, ok := env.Locals.Get(name); ok {
			return v, true
		}
	}
	if env.Instance != nil {
		if v, ok := env.Instance.Fields.Get(name); ok {
			return v, true
		}
	}
	for _, ns := range env.Namespaces {
		if v, ok := env.Storage.Globals.Get(ns + "." + name); ok {
			return v, true
		}
	}
	if v, ok := env.Storage.Globals.Get(name); ok {
		return v, true
	}
	if v, ok := env.Storage.Retain.Get(name); ok {
		return v, true
	}
	return engine.Value{}, false
}

// deref follows a reference value to its pointee.
func deref(v engine.Value, env *Env) (engine.Value, error) {
	if v.Kind != engine.KindRef {
		return v, nil
	}
	if v.Ref == 0 {
		return engine.Value{}, fmt.Errorf("null reference")
	}
	target, ok := env.Storage.Refs[v.Ref]
	if !ok {
		return engine.Value{}, fmt.Errorf("dangling reference #%d", v.Ref)
	}
	out, ok := env.Storage.Resolve(target)
	if !ok {
		return engine.Value{}, fmt.Errorf("dangling reference #%d", v.Ref)
	}
	return out, nil
}

func evalMember(node Member, env *Env) (engine.Value, error) {
	// A leading identifier may name a namespace-qualified global
	// (Station.Conveyor) rather than a struct member chain.
	if id, ok := node.X.(Ident); ok {
		if v, found := env.Storage.Globals.Get(id.Name + "." + node.Name); found {
			return v, nil
		}
	}
	base, err := Eval(node.X, env)
	if err != nil {
		return engine.Value{}, err
	}
	base, err = deref(base, env)
	if err != nil {
		return engine.Value{}, err
	}
	if base.Kind != engine.KindStruct {
		return engine.Value{}, fmt.Errorf("%s has no members", base.TypeName())
	}
	for _, f := range base.Fields {
		if f.Name == node.Name {
			return f.Value, nil
		}
	}
	return engine.Value{}, fmt.Errorf("no member %q on %s", node.Name, base.TypeName())
}

func evalIndex(node Index, env *Env) (engine.Value, error) {
	base, err := Eval(node.X, env)
	if err != nil {
		return engine.Value{}, err
	}
	base, err = deref(base, env)
	if err != nil {
		return engine.Value{}, err
	}
	if base.Kind != engine.KindArray {
		return engine.Value{}, fmt.Errorf("%s is not indexable", base.TypeName())
	}
	idx, err := Eval(node.I, env)
	if err != nil {
		return engine.Value{}, err
	}
	if idx.Kind != engine.KindInt {
		return engine.Value{}, fmt.Errorf("array index must be an integer")
	}
	if idx.Int < 0 || idx.Int >= int64(len(base.Elems)) {
		return engine.Value{}, fmt.Errorf("index %d out of range [0..%d]", idx.Int, len(base.Elems)-1)
	}
	return base.Elems[idx.Int], nil
}

func evalUnary(node Unary, env *Env) (engine.Value, error) {
	x, err := Eval(node.X, env)
	if err != nil {
		return engine.Value{}, err
	}
	switch node.Op {
	case "-":
		switch x.Kind {
		case engine.KindInt:
			return engine.IntValue(x.TypeName(), -x.Int), nil
		case engine.KindReal:
			return engine.RealValue(x.TypeName(), -x.Real), nil
		case engine.KindTime:
			return engine.TimeValue(-x.Dur), nil
		}
		return engine.Value{}, fmt.Errorf("cannot negate %s", x.TypeName())
	case "NOT":
		if x.Kind != engine.KindBool {
			return engine.Value{}, fmt.Errorf("NOT requires BOOL, got %s", x.TypeName())
		}
		return engine.BoolValue(!x.Bool), nil
	}
	return engine.Value{}, fmt.Errorf("internal: unknown unary %q", node.Op)
}

func evalBinary(node Binary, env *Env) (engine.Value, error) {
	l, err := Eval(node.L, env)
	if err != nil {
		return engine.Value{}, err
	}
	r, err := Eval(node.R, env)
	if err != nil {
		return engine.Value{}, err
	}

	switch node.Op {
	case "AND", "OR", "XOR":
		if l.Kind != engine.KindBool || r.Kind != engine.KindBool {
			return engine.Value{}, fmt.Errorf("%s requires BOOL operands", node.Op)
		}
		switch node.Op {
		case "AND":
			return engine.BoolValue(l.Bool && r.Bool), nil
		case "OR":
			return engine.BoolValue(l.Bool || r.Bool), nil
		default:
			return engine.BoolValue(l.Bool != r.Bool), nil
		}

	case "=", "<>":
		eq, err := compareEqual(l, r)
		if err != nil {
			return engine.Value{}, err
		}
		if node.Op == "<>" {
			eq = !eq
		}
		return engine.BoolValue(eq), nil

	case "<", "<=", ">", ">=":
		c, err := compareOrder(l, r)
		if err != nil {
			return engine.Value{}, err
		}
		switch node.Op {
		case "<":
			return engine.BoolValue(c < 0), nil
		case "<=":
			return engine.BoolValue(c <= 0), nil
		case ">":
			return engine.BoolValue(c > 0), nil
		default:
			return engine.BoolValue(c >= 0), nil
		}

	case "+", "-", "*", "/", "MOD":
		return arith(node.Op, l, r)
	}
	return engine.Value{}, fmt.Errorf("internal: unknown operator %q", node.Op)
}

func compareEqual(l, r engine.Value) (bool, error) {
	if bothNumeric(l, r) {
		return numFloat(l) == numFloat(r), nil
	}
	if l.Kind != r.Kind {
		return false, fmt.Errorf("cannot compare %s with %s", l.TypeName(), r.TypeName())
	}
	return l.Equal(r), nil
}

func compareOrder(l, r engine.Value) (int, error) {
	switch {
	case bothNumeric(l, r):
		lf, rf := numFloat(l), numFloat(r)
		switch {
		case lf < rf:
			return -1, nil
		case lf > rf:
			return 1, nil
		}
		return 0, nil
	case l.Kind == engine.KindString && r.Kind == engine.KindString:
		switch {
		case l.Str < r.Str:
			return -1, nil
		case l.Str > r.Str:
			return 1, nil
		}
		return 0, nil
	case l.Kind == engine.KindTime && r.Kind == engine.KindTime:
		switch {
		case l.Dur < r.Dur:
			return -1, nil
		case l.Dur > r.Dur:
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("cannot order %s and %s", l.TypeName(), r.TypeName())
}

func arith(op string, l, r engine.Value) (engine.Value, error) {
	// TIME arithmetic keeps its own rules.
	if l.Kind == engine.KindTime && r.Kind == engine.KindTime {
		switch op {
		case "+":
			return engine.TimeValue(l.Dur + r.Dur), nil
		case "-":
			return engine.TimeValue(l.Dur - r.Dur), nil
		}
		return engine.Value{}, fmt.Errorf("operator %q not defined for TIME", op)
	}
	if l.Kind == engine.KindString && r.Kind == engine.KindString && op == "+" {
		return engine.StringValue(l.Str + r.Str), nil
	}
	if !bothNumeric(l, r) {
		return engine.Value{}, fmt.Errorf("operator %q requires numeric operands, got %s and %s",
			op, l.TypeName(), r.TypeName())
	}

	if l.Kind == engine.KindInt && r.Kind == engine.KindInt {
		switch op {
		case "+":
			return engine.IntValue(widerIntType(l, r), l.Int+r.Int), nil
		case "-":
			return engine.IntValue(widerIntType(l, r), l.Int-r.Int), nil
		case "*":
			return engine.IntValue(widerIntType(l, r), l.Int*r.Int), nil
		case "/":
			if r.Int == 0 {
				return engine.Value{}, fmt.Errorf("division by zero")
			}
			return engine.IntValue(widerIntType(l, r), l.Int/r.Int), nil
		case "MOD":
			if r.Int == 0 {
				return engine.Value{}, fmt.Errorf("division by zero")
			}
			return engine.IntValue(widerIntType(l, r), l.Int%r.Int), nil
		}
	}

	if op == "MOD" {
		return engine.Value{}, fmt.Errorf("MOD requires integer operands")
	}
	lf, rf := numFloat(l), numFloat(r)
	switch op {
	case "+":
		return engine.RealValue("LREAL", lf+rf), nil
	case "-":
		return engine.RealValue("LREAL", lf-rf), nil
	case "*":
		return engine.RealValue("LREAL", lf*rf), nil
	case "/":
		if rf == 0 {
			return engine.Value{}, fmt.Errorf("division by zero")
		}
		return engine.RealValue("LREAL", lf/rf), nil
	}
	return engine.Value{}, fmt.Errorf("internal: unknown operator %q", op)
}

func bothNumeric(l, r engine.Value) bool {
	num := func(v engine.Value) bool {
		return v.Kind == engine.KindInt || v.Kind == engine.KindReal
	}
	return num(l) && num(r)
}

func numFloat(v engine.Value) float64 {
	if v.Kind == engine.KindInt {
		return float64(v.Int)
	}
	return v.Real
}

// widerIntType keeps the wider declared type of two integer operands.
func widerIntType(l, r engine.Value) string {
	rank := map[string]int{"SINT": 1, "INT": 2, "DINT": 3, "LINT": 4}
	if rank[r.TypeName()] > rank[l.TypeName()] {
		return r.TypeName()
	}
	return l.TypeName()
}
