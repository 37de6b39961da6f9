package process

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/simkernel/sim"
)

func TestAssembler_ResolvesLabels(t *testing.T) {
	fn, err := NewAssembler("count", "n").
		Push(0).Store("i").
		Label("top").
		Load("i").Load("n").Ge().JumpIfTrue("end").
		Load("i").Push(1).Add().Store("i").
		Jump("top").
		Label("end").
		Load("i").Ret().
		Build()
	require.NoError(t, err)

	assert.Equal(t, 1, fn.Params)
	assert.Equal(t, 2, fn.NumLocals)
	assert.Equal(t, []string{"n", "i"}, fn.LocalNames)
	assert.Equal(t, OpJmpT, fn.Code[5].Op)
	assert.Equal(t, 11, fn.Code[5].A)
	assert.Equal(t, OpJmp, fn.Code[10].Op)
	assert.Equal(t, 2, fn.Code[10].A)
	assert.True(t, strings.HasPrefix(fn.Disassemble(), "func count(params=1 locals=2)"))
}

func TestAssembler_Errors(t *testing.T) {
	tests := []struct {
		name string
		asm  *Assembler
	}{
		{"undefined label", NewAssembler("f").Jump("nowhere")},
		{"label bound twice", NewAssembler("f").Label("x").Label("x")},
		{"undeclared local", NewAssembler("f").Load("ghost")},
		{"duplicate parameter", NewAssembler("f", "a", "a")},
		{"operand-only misuse", NewAssembler("f").Op(OpJmp)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.asm.Build()
			assert.ErrorIs(t, err, sim.ErrProgram)
		})
	}
	assert.Panics(t, func() { NewAssembler("f").Jump("nowhere").MustBuild() })
}

func TestProgram_Validate(t *testing.T) {
	callee := NewAssembler("callee", "x").Load("x").Ret().MustBuild()

	tests := []struct {
		name string
		fn   *Function
	}{
		{"undefined call", &Function{Name: "f", Code: []Instr{{Op: OpCall, Name: "missing"}}}},
		{"call arity", &Function{Name: "f", Code: []Instr{{Op: OpCall, Name: "callee", A: 2}}}},
		{"slot out of range", &Function{Name: "f", NumLocals: 1, Code: []Instr{{Op: OpLoad, A: 1}}}},
		{"jump out of range", &Function{Name: "f", Code: []Instr{{Op: OpJmp, A: 5}}}},
		{"unknown native", &Function{Name: "f", Code: []Instr{{Op: OpNative, Name: "nope"}}}},
		{"unknown opcode", &Function{Name: "f", Code: []Instr{{Op: OpRet + 1}}}},
		{"locals below params", &Function{Name: "f", Params: 2, NumLocals: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProgram()
			require.NoError(t, p.Add(callee))
			require.NoError(t, p.Add(tt.fn))
			err := p.Validate(func(name string) bool { return name == NativeHold })
			assert.ErrorIs(t, err, sim.ErrProgram)
		})
	}

	p := NewProgram()
	require.NoError(t, p.Add(callee))
	assert.ErrorIs(t, p.Add(callee), sim.ErrProgram)
	assert.ErrorIs(t, p.Add(&Function{}), sim.ErrProgram)
	assert.NoError(t, p.Validate(nil))
}

func TestBinaryOperators(t *testing.T) {
	tests := []struct {
		op   Opcode
		a, b Value
		want Value
	}{
		{OpAdd, Int(2), Int(3), Int(5)},
		{OpAdd, Int(2), Float(0.5), Float(2.5)},
		{OpAdd, Str("ab"), Str("cd"), Str("abcd")},
		{OpSub, Int(2), Int(3), Int(-1)},
		{OpMul, Float(1.5), Int(2), Float(3)},
		{OpDiv, Int(7), Int(2), Int(3)},
		{OpDiv, Float(7), Int(2), Float(3.5)},
		{OpMod, Int(7), Int(3), Int(1)},
		{OpMod, Float(7.5), Int(2), Float(1.5)},
		{OpLt, Int(1), Float(1.5), Bool(true)},
		{OpGe, Str("b"), Str("a"), Bool(true)},
		{OpEq, Int(1), Float(1), Bool(true)},
		{OpEq, Str("x"), Int(1), Bool(false)},
		{OpNe, Bool(true), Bool(false), Bool(true)},
		{OpEq, Float(math.NaN()), Float(math.NaN()), Bool(true)},
	}
	for _, tt := range tests {
		t.Run(tt.op.String()+" "+tt.a.String()+" "+tt.b.String(), func(t *testing.T) {
			got, err := binary(tt.op, tt.a, tt.b)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s (%s), want %s (%s)", got, got.Kind(), tt.want, tt.want.Kind())
		})
	}

	_, err := binary(OpDiv, Int(1), Int(0))
	assert.ErrorIs(t, err, sim.ErrProgram)
	_, err = binary(OpSub, Str("a"), Str("b"))
	assert.ErrorIs(t, err, sim.ErrProgram)
	_, err = binary(OpAdd, Bool(true), Int(1))
	assert.ErrorIs(t, err, sim.ErrProgram)
}

func TestValue_TruthyAndConversions(t *testing.T) {
	assert.False(t, Nil.Truthy())
	assert.False(t, Int(0).Truthy())
	assert.False(t, Str("").Truthy())
	assert.False(t, Bool(false).Truthy())
	assert.True(t, Float(-0.1).Truthy())
	assert.True(t, Ref(&Resource{}).Truthy())

	assert.Equal(t, KindInt, ValueOf(sim.Time(4)).Kind())
	assert.Equal(t, KindInt, ValueOf(3).Kind())
	assert.Equal(t, KindRef, ValueOf(struct{}{}).Kind())
	assert.True(t, ValueOf(nil).IsNil())
	assert.True(t, Ref(nil).IsNil())

	assert.False(t, Float(0).Equal(Float(math.Copysign(0, -1))), "equality is bit-for-bit")

	tm, err := TimeArg(Float(2.6))
	require.NoError(t, err)
	assert.Equal(t, sim.Time(3), tm)
	_, err = TimeArg(Str("soon"))
	assert.ErrorIs(t, err, sim.ErrProgram)
	_, err = TimeArg(Float(math.Inf(1)))
	assert.ErrorIs(t, err, sim.ErrProgram)
}
