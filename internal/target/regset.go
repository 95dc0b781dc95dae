package target

import (
	"strings"

	"github.com/jncronin/tysos-sub010/internal/ir"
)

// RegSet is a set of physical registers. Registers numbered 64 or above
// cannot be members.
type RegSet uint64

// NewRegSet returns a new RegSet with the given registers.
func NewRegSet(regs ...ir.RegID) RegSet {
	var ret RegSet
	for _, r := range regs {
		ret = ret.Add(r)
	}
	return ret
}

// Has reports whether r is in rs.
func (rs RegSet) Has(r ir.RegID) bool {
	return r < 64 && rs&(1<<uint(r)) != 0
}

// Add returns rs with r added.
func (rs RegSet) Add(r ir.RegID) RegSet {
	if r >= 64 {
		return rs
	}
	return rs | 1<<uint(r)
}

// Remove returns rs without r.
func (rs RegSet) Remove(r ir.RegID) RegSet {
	if r >= 64 {
		return rs
	}
	return rs &^ (1 << uint(r))
}

// Range calls f for every member in increasing order.
func (rs RegSet) Range(f func(r ir.RegID)) {
	for i := 0; i < 64; i++ {
		if rs&(1<<uint(i)) != 0 {
			f(ir.RegID(i))
		}
	}
}

// Slice returns the members in increasing order.
func (rs RegSet) Slice() []ir.RegID {
	var ret []ir.RegID
	rs.Range(func(r ir.RegID) { ret = append(ret, r) })
	return ret
}

// Len returns the number of members.
func (rs RegSet) Len() int {
	n := 0
	rs.Range(func(ir.RegID) { n++ })
	return n
}

// Format returns the comma separated register names of rs.
func (rs RegSet) Format(n ir.RegNamer) string {
	var ret []string
	rs.Range(func(r ir.RegID) {
		ret = append(ret, ir.Reg(r, ir.TypeVoid).Format(n))
	})
	return strings.Join(ret, ", ")
}
