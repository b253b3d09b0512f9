package expr

import (
	"strings"
	"testing"

	"github.com/tkallio/rivet/engine"
)

func testTypes() *engine.TypeRegistry {
	r := engine.NewTypeRegistry()
	r.Register(engine.TypeInfo{Name: "MotorDrive", Kind: engine.KindStruct, Fields: []string{"Setpoint", "RPM"}})
	return r
}

func testEvalEnv() *Env {
	st := engine.NewStorage()
	st.Globals.Set("Speed", engine.IntValue("DINT", 1200))
	st.Globals.Set("Flag", engine.BoolValue(true))
	st.Globals.Set("Name", engine.StringValue("conveyor"))
	st.Globals.Set("Limit", engine.IntValue("DINT", 99))
	st.Globals.Set("Station.Limit", engine.IntValue("DINT", 10))
	st.Globals.Set("Drive", engine.StructValue("MotorDrive", []engine.Field{
		{Name: "Setpoint", Value: engine.RealValue("REAL", 55.5)},
		{Name: "RPM", Value: engine.IntValue("DINT", 1180)},
	}))
	st.Globals.Set("Buffer", engine.ArrayValue("ARRAY[0..2] OF INT", []engine.Value{
		engine.IntValue("INT", 10),
		engine.IntValue("INT", 20),
		engine.IntValue("INT", 30),
	}))
	st.Globals.Set("DriveRef", engine.RefValue("REF_TO MotorDrive", 1))
	st.Globals.Set("NullRef", engine.RefValue("REF_TO MotorDrive", 0))
	st.Refs[1] = engine.RefTarget{Area: engine.AreaGlobal, Name: "Drive"}
	st.Retain.Set("Total", engine.IntValue("DINT", 42))

	inst := &engine.Instance{ID: 1, Type: "Motor", Fields: engine.NewVarTable()}
	inst.Fields.Set("Setpoint", engine.RealValue("REAL", 55.5))
	inst.Fields.Set("Limit", engine.IntValue("DINT", 7))
	st.AddInstance(inst)

	locals := engine.NewVarTable()
	locals.Set("i", engine.IntValue("DINT", 3))

	return &Env{
		Storage:    st,
		Locals:     locals,
		Instance:   inst,
		Namespaces: []string{"Station"},
	}
}

func eval(t *testing.T, src string, env *Env) engine.Value {
	t.Helper()
	n, err := Parse(src, testTypes())
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	v, err := Eval(n, env)
	if err != nil {
		t.Fatalf("eval %q: %v", src, err)
	}
	return v
}

func evalErr(t *testing.T, src string, env *Env) error {
	t.Helper()
	n, err := Parse(src, testTypes())
	if err != nil {
		return err
	}
	_, err = Eval(n, env)
	if err == nil {
		t.Fatalf("%q: expected an error", src)
	}
	return err
}

// ---------------------------------------------------------------------------
// Precedence and grouping
// ---------------------------------------------------------------------------

func TestEval_OperatorPrecedence(t *testing.T) {
	env := testEvalEnv()
	cases := map[string]string{
		"2 + 3 * 4":               "14",
		"(2 + 3) * 4":             "20",
		"2 * 3 + 4 * 5":           "26",
		"10 - 2 - 3":              "5", // left associative
		"1 + 1 = 2":               "TRUE",
		"2 < 3 AND 3 < 2":         "FALSE",
		"TRUE OR FALSE AND FALSE": "TRUE", // AND binds tighter than OR
		"TRUE XOR TRUE OR TRUE":   "TRUE", // OR is loosest
	}
	for src, want := range cases {
		if got := eval(t, src, env).String(); got != want {
			t.Errorf("%q = %s, want %s", src, got, want)
		}
	}
}

func TestEval_UnaryOperators(t *testing.T) {
	env := testEvalEnv()

	if got := eval(t, "-Speed", env); got.Int != -1200 {
		t.Errorf("-Speed = %d", got.Int)
	}
	if got := eval(t, "NOT Flag", env); got.Bool {
		t.Error("NOT Flag should be FALSE")
	}
	if got := eval(t, "NOT (1 > 2)", env); !got.Bool {
		t.Error("NOT (1 > 2) should be TRUE")
	}
	if err := evalErr(t, "NOT Speed", env); !strings.Contains(err.Error(), "requires BOOL") {
		t.Errorf("error = %v", err)
	}
	if err := evalErr(t, "-Flag", env); !strings.Contains(err.Error(), "cannot negate") {
		t.Errorf("error = %v", err)
	}
}

// ---------------------------------------------------------------------------
// Literals
// ---------------------------------------------------------------------------

func TestEval_TypedLiterals(t *testing.T) {
	env := testEvalEnv()

	v := eval(t, "INT#10 + DINT#5", env)
	if v.Int != 15 || v.TypeName() != "DINT" {
		t.Errorf("got %d %s, want 15 DINT", v.Int, v.TypeName())
	}
	if v := eval(t, "T#1s + T#500ms", env); v.String() != "T#1s500ms" {
		t.Errorf("time sum = %s", v.String())
	}
	if v := eval(t, "TIME#1h30m", env); v.String() != "T#1h30m" {
		t.Errorf("TIME# literal = %s", v.String())
	}
	if v := eval(t, "BOOL#1", env); !v.Bool {
		t.Error("BOOL#1 should be TRUE")
	}
	if v := eval(t, "1_000_000 / 1000", env); v.Int != 1000 {
		t.Errorf("underscored literal = %d", v.Int)
	}
	if v := eval(t, "1.5e2", env); v.Real != 150 {
		t.Errorf("exponent literal = %g", v.Real)
	}

	if _, err := Parse("WORD#1", testTypes()); err == nil || !strings.Contains(err.Error(), "unknown type") {
		t.Errorf("WORD#1 parse error = %v", err)
	}
}

func TestEval_StringOperations(t *testing.T) {
	env := testEvalEnv()

	if v := eval(t, "'abc' + 'def'", env); v.Str != "abcdef" {
		t.Errorf("concat = %q", v.Str)
	}
	if v := eval(t, "'alpha' < 'beta'", env); !v.Bool {
		t.Error("lexicographic order failed")
	}
	if v := eval(t, "Name = 'conveyor'", env); !v.Bool {
		t.Error("string equality failed")
	}
}

// ---------------------------------------------------------------------------
// Arithmetic rules
// ---------------------------------------------------------------------------

func TestEval_ArithmeticTyping(t *testing.T) {
	env := testEvalEnv()

	// Integer division truncates and keeps the wider integer type.
	if v := eval(t, "7 / 2", env); v.Int != 3 || v.Kind != engine.KindInt {
		t.Errorf("7 / 2 = %v", v)
	}
	// A real operand promotes the whole expression.
	if v := eval(t, "7.0 / 2", env); v.Real != 3.5 || v.Kind != engine.KindReal {
		t.Errorf("7.0 / 2 = %v", v)
	}
	if v := eval(t, "7 MOD 2", env); v.Int != 1 {
		t.Errorf("7 MOD 2 = %d", v.Int)
	}
	// Mixed-type numeric comparison.
	if v := eval(t, "2 = 2.0", env); !v.Bool {
		t.Error("2 = 2.0 should be TRUE")
	}

	if err := evalErr(t, "1 / 0", env); !strings.Contains(err.Error(), "division by zero") {
		t.Errorf("error = %v", err)
	}
	if err := evalErr(t, "1.0 / 0.0", env); !strings.Contains(err.Error(), "division by zero") {
		t.Errorf("error = %v", err)
	}
	if err := evalErr(t, "1.5 MOD 1", env); !strings.Contains(err.Error(), "MOD requires integer") {
		t.Errorf("error = %v", err)
	}
	if err := evalErr(t, "T#1s * T#1s", env); err == nil {
		t.Error("TIME multiplication should fail")
	}
}

// ---------------------------------------------------------------------------
// Name resolution
// ---------------------------------------------------------------------------

func TestEval_ResolutionOrder(t *testing.T) {
	env := testEvalEnv()

	// "Limit" exists as an instance field (7), a namespace-qualified
	// global Station.Limit (10), and a plain global (99). Instance
	// fields win after locals.
	if v := eval(t, "Limit", env); v.Int != 7 {
		t.Errorf("Limit = %d, want instance field 7", v.Int)
	}

	// Without the instance, the namespace-qualified global wins.
	env.Instance = nil
	if v := eval(t, "Limit", env); v.Int != 10 {
		t.Errorf("Limit = %d, want Station.Limit 10", v.Int)
	}

	// Without the namespace, the plain global.
	env.Namespaces = nil
	if v := eval(t, "Limit", env); v.Int != 99 {
		t.Errorf("Limit = %d, want global 99", v.Int)
	}

	// Locals beat everything.
	env.Locals.Set("Limit", engine.IntValue("DINT", 1))
	if v := eval(t, "Limit", env); v.Int != 1 {
		t.Errorf("Limit = %d, want local 1", v.Int)
	}

	// Retain is the last fallback.
	if v := eval(t, "Total", env); v.Int != 42 {
		t.Errorf("Total = %d", v.Int)
	}
}

// ---------------------------------------------------------------------------
// Member, index, reference access
// ---------------------------------------------------------------------------

func TestEval_MemberAndIndex(t *testing.T) {
	env := testEvalEnv()

	if v := eval(t, "Drive.RPM", env); v.Int != 1180 {
		t.Errorf("Drive.RPM = %d", v.Int)
	}
	if v := eval(t, "Buffer[2]", env); v.Int != 30 {
		t.Errorf("Buffer[2] = %d", v.Int)
	}
	if v := eval(t, "Buffer[i - 3]", env); v.Int != 10 {
		t.Errorf("Buffer[i - 3] = %d", v.Int)
	}
	// Qualified access to a namespaced global looks like member access.
	if v := eval(t, "Station.Limit", env); v.Int != 10 {
		t.Errorf("Station.Limit = %d", v.Int)
	}
}

func TestEval_ReferencesDereferenceOnAccess(t *testing.T) {
	env := testEvalEnv()

	if v := eval(t, "DriveRef.Setpoint", env); v.Real != 55.5 {
		t.Errorf("DriveRef.Setpoint = %g", v.Real)
	}
	if err := evalErr(t, "NullRef.Setpoint", env); !strings.Contains(err.Error(), "null reference") {
		t.Errorf("error = %v", err)
	}

	env.Storage.Globals.Set("BadRef", engine.RefValue("REF_TO X", 9))
	if err := evalErr(t, "BadRef.Setpoint", env); !strings.Contains(err.Error(), "dangling reference") {
		t.Errorf("error = %v", err)
	}
}

func TestEval_AccessErrors(t *testing.T) {
	env := testEvalEnv()

	for src, want := range map[string]string{
		"Speed.Field":  "has no members",
		"Speed[0]":     "not indexable",
		"Buffer[Flag]": "index must be an integer",
		"Buffer[5]":    "out of range",
		"Buffer[-1]":   "out of range",
		"Drive.Nope":   `no member "Nope"`,
		"Missing":      `unknown variable "Missing"`,
	} {
		if err := evalErr(t, src, env); !strings.Contains(err.Error(), want) {
			t.Errorf("%q: error = %v, want substring %q", src, err, want)
		}
	}
}

// ---------------------------------------------------------------------------
// Parse errors
// ---------------------------------------------------------------------------

func TestParse_Errors(t *testing.T) {
	for src, want := range map[string]string{
		"1 +":        "unexpected",
		"(1 + 2":     "expected ')'",
		"Buffer[1":   "expected ']'",
		"Drive.":     "expected member name",
		"1 2":        "after expression",
		"'open":      "unterminated string",
		"a ? b":      "unexpected character",
	} {
		if _, err := Parse(src, testTypes()); err == nil || !strings.Contains(err.Error(), want) {
			t.Errorf("%q: error = %v, want substring %q", src, err, want)
		}
	}
}
