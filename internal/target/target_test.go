package target

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jncronin/tysos-sub010/internal/ir"
)

func TestRegSet(t *testing.T) {
	rs := NewRegSet(0, 3, 5)
	require.True(t, rs.Has(3))
	require.False(t, rs.Has(1))
	require.Equal(t, 3, rs.Len())
	require.Equal(t, []ir.RegID{0, 3, 5}, rs.Slice())

	rs = rs.Remove(3).Add(63).Add(64)
	require.Equal(t, []ir.RegID{0, 5, 63}, rs.Slice())
	require.False(t, rs.Has(64))
}

func TestPatternTable_Add(t *testing.T) {
	vreg := ir.MakeDecorated(ir.OperandVReg, ir.TypeInt32)
	cnst := ir.MakeDecorated(ir.OperandConst, ir.TypeInt32)
	mov := Pattern{I(ir.MachTargetBase, Def(0), Use(0))}

	for _, tc := range []struct {
		name   string
		uses   []ir.Decorated
		defs   []ir.Decorated
		p      Pattern
		expErr string
	}{
		{name: "empty", uses: []ir.Decorated{vreg}, defs: []ir.Decorated{vreg}, expErr: "empty pattern"},
		{name: "missing use", defs: []ir.Decorated{vreg}, p: mov, expErr: "reads use 0"},
		{name: "missing def", uses: []ir.Decorated{vreg}, p: mov, expErr: "reads def 0"},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			pt := NewPatternTable()
			err := pt.Add(ir.OpStore, tc.uses, tc.defs, tc.p)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.expErr)
			require.Zero(t, pt.Len())
		})
	}

	t.Run("duplicate", func(t *testing.T) {
		pt := NewPatternTable()
		require.NoError(t, pt.AddEach(ir.OpStore, [][]ir.Decorated{{vreg, cnst}}, []ir.Decorated{vreg}, mov))
		require.Equal(t, 2, pt.Len())
		err := pt.Add(ir.OpStore, []ir.Decorated{cnst}, []ir.Decorated{vreg}, mov)
		require.Error(t, err)
		require.Contains(t, err.Error(), "duplicate pattern")

		p, ok := pt.lookup(ir.Signature{Op: ir.OpStore, Uses: []ir.Decorated{cnst}, Defs: []ir.Decorated{vreg}})
		require.True(t, ok)
		require.Equal(t, mov, p)
		_, ok = pt.lookup(ir.Signature{Op: ir.OpAdd, Uses: []ir.Decorated{cnst}, Defs: []ir.Decorated{vreg}})
		require.False(t, ok)
	})
}

func TestPattern_Temps(t *testing.T) {
	p := Pattern{
		I(ir.MachTargetBase, TempDef(0), Use(0)),
		I(ir.MachTargetBase, TempDef(2), TempUse(0)),
	}
	require.Equal(t, 3, p.Temps())
	require.Zero(t, Pattern{I(ir.MachTargetBase, Def(0))}.Temps())
}
