package lower

import (
	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/target"
	"github.com/jncronin/tysos-sub010/internal/tysilaapi"
)

// enter leaves markers for the call finisher, which knows the frame size and
// the callee-saved registers the method clobbers only after allocation.
func (l *lowerer) enter() []*ir.MInst {
	return []*ir.MInst{
		l.g.NewMInst(ir.MachSetupStack),
		l.g.NewMInst(ir.MachSaveCalleePreserves),
	}
}

func (l *lowerer) ret(instr *ir.Instr) ([]*ir.MInst, error) {
	conv, err := l.t.Convention(l.g.Convention)
	if err != nil {
		return nil, tysilaapi.Unsupported("lower", "%v", err).At(instr.String(), instr.Offset)
	}
	var ret []*ir.MInst
	var uses []ir.RegID
	if len(instr.Uses) > 0 {
		v := instr.Uses[0]
		if l.t.ClassOf(v.Type) == target.ClassNone {
			return nil, tysilaapi.Unsupported("lower", "return value of class %s", v.Type).At(instr.String(), instr.Offset)
		}
		m := l.t.Move(l.g, ir.Reg(conv.ReturnReg, l.resolve(v.Type)), v)
		if m == nil {
			return nil, tysilaapi.Unsupported("lower", "unable to encode").At(instr.String(), instr.Offset)
		}
		ret = append(ret, m)
		uses = append(uses, conv.ReturnReg)
	}
	ret = append(ret,
		l.g.NewMInst(ir.MachRestoreCalleePreserves),
		l.t.Ret(l.g, uses...),
	)
	return ret, nil
}

// call emits precall, the call itself, the copy of the result and postcall.
// Arguments are placed by the call finisher.
func (l *lowerer) call(instr *ir.Instr) ([]*ir.MInst, error) {
	conv, err := l.t.Convention(instr.Convention)
	if err != nil {
		return nil, tysilaapi.Unsupported("lower", "%v", err).At(instr.String(), instr.Offset)
	}
	cs := &ir.CallSite{Callee: instr.Callee, Convention: conv.Name}
	args := make([]ir.Operand, len(instr.Uses))
	for i, u := range instr.Uses {
		if l.t.ClassOf(u.Type) == target.ClassNone {
			return nil, tysilaapi.Unsupported("lower", "argument %d of class %s", i, u.Type).At(instr.String(), instr.Offset)
		}
		args[i] = u.Use()
		cs.ArgTypes = append(cs.ArgTypes, l.resolve(u.Type))
	}

	pre := l.g.NewMInst(ir.MachPrecall, args...)
	pre.Call = cs
	ret := []*ir.MInst{pre, l.t.Call(l.g, instr.Callee, conv.ReturnReg)}
	if len(instr.Defs) > 0 {
		d := instr.Defs[0]
		m := l.t.Move(l.g, d, ir.Reg(conv.ReturnReg, l.resolve(d.Type)))
		if m == nil {
			return nil, tysilaapi.Unsupported("lower", "unable to encode").At(instr.String(), instr.Offset)
		}
		ret = append(ret, m)
	}
	post := l.g.NewMInst(ir.MachPostcall)
	post.Call = cs
	return append(ret, post), nil
}

// newObj expands d = newobj T(ctor args) into
//
//	a = ldlabaddr T's size
//	n = ldind a
//	d = call allocator(n)
//	t = ldlabaddr T's vtable
//	stind d, t
//	call ctor(d, args...)
//
// and lowers those.
func (l *lowerer) newObj(instr *ir.Instr, depth int) ([]*ir.MInst, error) {
	if len(instr.Defs) != 1 || instr.TypeName == "" {
		return nil, tysilaapi.Structural("lower", "newobj needs a destination and a type").At(instr.String(), instr.Offset)
	}
	ptr := l.t.PtrType()
	d := instr.Defs[0]
	if !d.InRegister() {
		t := ir.Temp(l.g.AllocVReg(), d.Type)
		tmp := l.clone(instr)
		tmp.Defs = []ir.Operand{t}
		a, err := l.newObj(tmp, depth)
		if err != nil {
			return nil, err
		}
		b, err := l.lower(l.derived(ir.OpStore, instr, []ir.Operand{d}, t), depth+1)
		if err != nil {
			return nil, err
		}
		return append(a, b...), nil
	}

	sizeAddr := ir.Temp(l.g.AllocVReg(), ptr)
	size := ir.Temp(l.g.AllocVReg(), ptr)
	alloc := l.derived(ir.OpCall, instr, []ir.Operand{d}, size)
	alloc.Callee = l.t.Allocator()
	vtbl := ir.Temp(l.g.AllocVReg(), ptr)
	seq := []*ir.Instr{
		l.derived(ir.OpLdLabAddr, instr, []ir.Operand{sizeAddr}, ir.Symbol(l.req.RequestLayout(instr.TypeName), 0)),
		l.derived(ir.OpLdInd, instr, []ir.Operand{size}, sizeAddr),
		alloc,
		l.derived(ir.OpLdLabAddr, instr, []ir.Operand{vtbl}, ir.Symbol(l.req.RequestVTable(instr.TypeName), 0)),
		l.derived(ir.OpStInd, instr, nil, d, vtbl),
	}
	if instr.Callee != "" {
		ctor := l.derived(ir.OpCall, instr, nil, append([]ir.Operand{d}, instr.Uses...)...)
		ctor.Callee, ctor.Convention = instr.Callee, instr.Convention
		seq = append(seq, ctor)
	}

	var ret []*ir.MInst
	for _, i := range seq {
		ms, err := l.lower(i, depth+1)
		if err != nil {
			return nil, err
		}
		ret = append(ret, ms...)
	}
	return ret, nil
}

// loadAddress lowers ldstr and ldlabaddr to a load of a symbol's address.
// String literals are interned through the requestor.
func (l *lowerer) loadAddress(instr *ir.Instr, depth int) ([]*ir.MInst, error) {
	if len(instr.Defs) != 1 || len(instr.Uses) != 1 {
		return nil, tysilaapi.Structural("lower", "%s needs one destination and one source", instr.Op).At(instr.String(), instr.Offset)
	}
	src := instr.Uses[0]
	switch {
	case instr.Op == ir.OpLdStr && src.Kind == ir.OperandString:
		src = ir.Symbol(l.req.RequestString(src.Sym), 0)
	case instr.Op == ir.OpLdLabAddr && src.Kind == ir.OperandSymbol:
	default:
		return nil, tysilaapi.Unsupported("lower", "%s of %s", instr.Op, src.Kind).At(instr.String(), instr.Offset)
	}

	d := instr.Defs[0]
	if d.InRegister() {
		return []*ir.MInst{l.g.NewMInst(ir.MachLoadAddress, d.Def(), src.Use())}, nil
	}
	t := ir.Temp(l.g.AllocVReg(), l.t.PtrType())
	ret := []*ir.MInst{l.g.NewMInst(ir.MachLoadAddress, t.Def(), src.Use())}
	ms, err := l.lower(l.derived(ir.OpStore, instr, []ir.Operand{d}, t), depth+1)
	if err != nil {
		return nil, err
	}
	return append(ret, ms...), nil
}

// derived returns a new instruction attributed to the source offset of instr.
func (l *lowerer) derived(op ir.Opcode, instr *ir.Instr, defs []ir.Operand, uses ...ir.Operand) *ir.Instr {
	i := l.g.NewInstr(op, defs, uses...)
	i.Offset = instr.Offset
	return i
}

func (l *lowerer) resolve(c ir.TypeClass) ir.TypeClass { return c.Resolve(l.t.PtrType()) }
