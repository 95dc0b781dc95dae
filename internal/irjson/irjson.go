// Package irjson reads methods in JSON form and writes compiled results.
//
// A method is a list of blocks, each holding its instructions and the ids of
// its successors in branch order:
//
//	{"methods": [{
//	  "name": "Add3", "params": ["i32"], "ret": "i32",
//	  "blocks": [{"instrs": [
//	    {"op": "add", "defs": [{"kind": "vreg", "index": 0}],
//	     "uses": [{"kind": "arg", "index": 0}, {"kind": "const", "value": 3}]},
//	    {"op": "ret", "uses": [{"kind": "vreg", "index": 0}]}
//	  ]}]
//	}]}
//
// Operand types default to i32.
package irjson

import (
	"bytes"
	"fmt"
	"io"

	"github.com/segmentio/encoding/json"

	"github.com/jncronin/tysos-sub010/internal/cfg"
	"github.com/jncronin/tysos-sub010/internal/ir"
)

// File is the top level document.
type File struct {
	Methods []Method `json:"methods"`
}

// Method is one method body.
type Method struct {
	Name       string   `json:"name"`
	Convention string   `json:"convention,omitempty"`
	Ret        string   `json:"ret,omitempty"`
	Params     []string `json:"params,omitempty"`
	Locals     []string `json:"locals,omitempty"`
	Blocks     []Block  `json:"blocks"`
}

// Block is a basic block.
type Block struct {
	Succs  []ir.BlockID `json:"succs,omitempty"`
	Instrs []Instr      `json:"instrs"`
}

// Instr is an IR instruction.
type Instr struct {
	Op         string    `json:"op"`
	Cond       string    `json:"cond,omitempty"`
	Defs       []Operand `json:"defs,omitempty"`
	Uses       []Operand `json:"uses,omitempty"`
	Callee     string    `json:"callee,omitempty"`
	Convention string    `json:"convention,omitempty"`
	TypeName   string    `json:"type_name,omitempty"`
	Offset     *int      `json:"offset,omitempty"`
}

// Operand is an instruction operand. Index is the stack slot, local or
// argument number; Value the constant or symbol addend; Name the symbol or
// string literal.
type Operand struct {
	Kind  string `json:"kind"`
	Type  string `json:"type,omitempty"`
	Index int    `json:"index,omitempty"`
	Value int64  `json:"value,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Decode reads a File from r and builds the graph of every method.
func Decode(r io.Reader) ([]*ir.Graph, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode methods: %w", err)
	}
	ret := make([]*ir.Graph, 0, len(f.Methods))
	for i := range f.Methods {
		g, err := f.Methods[i].Graph()
		if err != nil {
			return nil, err
		}
		ret = append(ret, g)
	}
	return ret, nil
}

// DecodeBytes is Decode on a byte slice.
func DecodeBytes(data []byte) ([]*ir.Graph, error) {
	return Decode(bytes.NewReader(data))
}

// Graph builds the graph of m.
func (m *Method) Graph() (*ir.Graph, error) {
	if len(m.Blocks) == 0 {
		return nil, fmt.Errorf("method %s: no blocks", m.Name)
	}
	blocks := make([][]*ir.Instr, len(m.Blocks))
	edges := make([][]ir.BlockID, len(m.Blocks))
	// Instructions are allocated from a scratch graph and moved over by cfg.Build.
	scratch := ir.NewGraph(m.Name)
	for b, blk := range m.Blocks {
		edges[b] = blk.Succs
		for n := range blk.Instrs {
			i, err := blk.Instrs[n].instr(scratch)
			if err != nil {
				return nil, fmt.Errorf("method %s: blk%d: instruction %d: %w", m.Name, b, n, err)
			}
			blocks[b] = append(blocks[b], i)
		}
	}
	g, err := cfg.Build(m.Name, blocks, edges)
	if err != nil {
		return nil, fmt.Errorf("method %s: %w", m.Name, err)
	}
	g.Convention = m.Convention
	if g.RetType, err = typeClass(m.Ret, ir.TypeVoid); err != nil {
		return nil, fmt.Errorf("method %s: return type: %w", m.Name, err)
	}
	if g.Params, err = typeClasses(m.Params); err != nil {
		return nil, fmt.Errorf("method %s: params: %w", m.Name, err)
	}
	if g.Locals, err = typeClasses(m.Locals); err != nil {
		return nil, fmt.Errorf("method %s: locals: %w", m.Name, err)
	}
	return g, nil
}

func (in *Instr) instr(g *ir.Graph) (*ir.Instr, error) {
	op, ok := ir.OpcodeByName(in.Op)
	if !ok || op == ir.OpPhi || op == ir.OpNop {
		return nil, fmt.Errorf("unknown opcode %q", in.Op)
	}
	defs := make([]ir.Operand, len(in.Defs))
	for n := range in.Defs {
		o, err := in.Defs[n].operand()
		if err != nil {
			return nil, err
		}
		defs[n] = o
	}
	uses := make([]ir.Operand, len(in.Uses))
	for n := range in.Uses {
		o, err := in.Uses[n].operand()
		if err != nil {
			return nil, err
		}
		uses[n] = o
	}
	i := g.NewInstr(op, defs, uses...)
	if in.Cond != "" {
		if i.Cond, ok = ir.CondByName(in.Cond); !ok {
			return nil, fmt.Errorf("unknown condition %q", in.Cond)
		}
	}
	i.Callee, i.Convention, i.TypeName = in.Callee, in.Convention, in.TypeName
	if in.Offset != nil {
		i.Offset = *in.Offset
	}
	if err := i.CheckOperands(); err != nil {
		return nil, err
	}
	return i, nil
}

func (o *Operand) operand() (ir.Operand, error) {
	t, err := typeClass(o.Type, ir.TypeInt32)
	if err != nil {
		return ir.Operand{}, err
	}
	switch o.Kind {
	case "vreg":
		return ir.Var(o.Index, t), nil
	case "local":
		return ir.Local(o.Index, t), nil
	case "arg":
		return ir.Arg(o.Index, t), nil
	case "const":
		return ir.Const(t, o.Value), nil
	case "sym":
		return ir.Symbol(o.Name, o.Value), nil
	case "str":
		return ir.Str(o.Name), nil
	default:
		return ir.Operand{}, fmt.Errorf("unknown operand kind %q", o.Kind)
	}
}

func typeClass(name string, def ir.TypeClass) (ir.TypeClass, error) {
	if name == "" {
		return def, nil
	}
	t, ok := ir.TypeClassByName(name)
	if !ok {
		return 0, fmt.Errorf("unknown type %q", name)
	}
	return t, nil
}

func typeClasses(names []string) ([]ir.TypeClass, error) {
	ret := make([]ir.TypeClass, len(names))
	for i, n := range names {
		t, err := typeClass(n, ir.TypeInt32)
		if err != nil {
			return nil, err
		}
		ret[i] = t
	}
	return ret, nil
}
