package irjson

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jncronin/tysos-sub010/internal/asm"
	"github.com/jncronin/tysos-sub010/internal/ir"
)

const diamond = `{"methods": [{
  "name": "Pick", "params": ["i32"], "ret": "i32", "convention": "regparm",
  "blocks": [
    {"succs": [1, 2], "instrs": [
      {"op": "brif", "cond": "eq", "uses": [{"kind": "arg", "index": 0}, {"kind": "const", "value": 0}], "offset": 3}
    ]},
    {"succs": [3], "instrs": [
      {"op": "store", "defs": [{"kind": "vreg"}], "uses": [{"kind": "const", "value": 1}]},
      {"op": "br"}
    ]},
    {"succs": [3], "instrs": [
      {"op": "ldstr", "defs": [{"kind": "vreg", "index": 1, "type": "obj"}], "uses": [{"kind": "str", "name": "hi"}]},
      {"op": "store", "defs": [{"kind": "vreg"}], "uses": [{"kind": "const", "value": 2}]},
      {"op": "br"}
    ]},
    {"instrs": [
      {"op": "ret", "uses": [{"kind": "vreg"}]}
    ]}
  ]
}]}`

func TestDecode(t *testing.T) {
	gs, err := Decode(strings.NewReader(diamond))
	require.NoError(t, err)
	require.Len(t, gs, 1)
	g := gs[0]

	require.Equal(t, "Pick", g.Name)
	require.Equal(t, "regparm", g.Convention)
	require.Equal(t, ir.TypeInt32, g.RetType)
	require.Equal(t, []ir.TypeClass{ir.TypeInt32}, g.Params)
	require.Len(t, g.Blocks, 4)
	require.Equal(t, []ir.BlockID{1, 2}, g.Blocks[0].Succs)
	require.Equal(t, []ir.BlockID{1, 2}, g.Blocks[3].Preds)

	brif := g.Blocks[0].Instrs[0]
	require.Equal(t, ir.OpBrIf, brif.Op)
	require.Equal(t, ir.CondEq, brif.Cond)
	require.Equal(t, 3, brif.Offset)
	require.Equal(t, ir.Arg(0, ir.TypeInt32), brif.Uses[0])
	require.Equal(t, -1, g.Blocks[1].Instrs[0].Offset)

	ldstr := g.Blocks[2].Instrs[0]
	require.Equal(t, ir.Var(1, ir.TypeObject), ldstr.Defs[0])
	require.Equal(t, ir.Str("hi"), ldstr.Uses[0])
}

func TestDecode_errors(t *testing.T) {
	for _, tc := range []struct {
		name, input, expErr string
	}{
		{name: "syntax", input: `{"methods": [`, expErr: "failed to decode methods"},
		{name: "unknown field", input: `{"methods": [], "extra": 1}`, expErr: "failed to decode methods"},
		{name: "no blocks", input: `{"methods": [{"name": "f"}]}`, expErr: "method f: no blocks"},
		{
			name:   "opcode",
			input:  `{"methods": [{"name": "f", "blocks": [{"instrs": [{"op": "jump"}]}]}]}`,
			expErr: `method f: blk0: instruction 0: unknown opcode "jump"`,
		},
		{
			name:   "phi",
			input:  `{"methods": [{"name": "f", "blocks": [{"instrs": [{"op": "phi"}]}]}]}`,
			expErr: `unknown opcode "phi"`,
		},
		{
			name:   "operand kind",
			input:  `{"methods": [{"name": "f", "blocks": [{"instrs": [{"op": "ret", "uses": [{"kind": "reg"}]}]}]}]}`,
			expErr: `unknown operand kind "reg"`,
		},
		{
			name:   "type",
			input:  `{"methods": [{"name": "f", "blocks": [{"instrs": [{"op": "ret", "uses": [{"kind": "vreg", "type": "f64"}]}]}]}]}`,
			expErr: `unknown type "f64"`,
		},
		{
			name:   "cond",
			input:  `{"methods": [{"name": "f", "blocks": [{"instrs": [{"op": "ret", "cond": "always"}]}]}]}`,
			expErr: `unknown condition "always"`,
		},
		{
			name:   "store without source",
			input:  `{"methods": [{"name": "f", "blocks": [{"instrs": [{"op": "store", "defs": [{"kind": "vreg"}]}, {"op": "ret"}]}]}]}`,
			expErr: "store takes 1 defs and 1 uses, got 1 defs and 0 uses",
		},
		{
			name:   "edge",
			input:  `{"methods": [{"name": "f", "blocks": [{"succs": [4], "instrs": [{"op": "br"}]}]}]}`,
			expErr: "method f:",
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeBytes([]byte(tc.input))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.expErr)
		})
	}
}

type names struct{}

func (names) RegName(r ir.RegID) string    { return []string{"a", "b"}[r] }
func (names) MachOpName(ir.MachOp) string { return "mov" }

func TestWriteResults(t *testing.T) {
	g := ir.NewGraph("f")
	g.AddBlock()
	g.Emit(0, ir.OpNop, nil).Machine = []*ir.MInst{
		g.NewMInst(ir.MachTargetBase, ir.Reg(0, ir.TypeInt32).Def(), ir.Reg(1, ir.TypeInt32).Use()),
	}
	code := &asm.Code{
		Symbol:       "f",
		Bytes:        []byte{0x89, 0xc8, 0xc3},
		BlockOffsets: []uint64{0},
		Relocs:       []asm.Relocation{{Offset: 1, Kind: asm.RelocPC32, Symbol: "g", Addend: -4}},
	}
	r := NewResult(g, names{}, 8, code)
	require.Equal(t, [][]string{{"mov a, b"}}, r.Blocks)
	require.Equal(t, "89c8c3", r.Code)

	var buf bytes.Buffer
	require.NoError(t, WriteResults(&buf, []Result{r}))
	require.Contains(t, buf.String(), `"frame_size": 8`)
	require.Contains(t, buf.String(), `"kind": "pc32"`)
	require.Contains(t, buf.String(), `"addend": -4`)
}
