// Package pmove sequentializes parallel moves.
//
// A parallel move is a set of assignments that must behave as if every source
// were read before any destination is written: phi copies on a CFG edge, or the
// placement of call arguments into convention registers. Sequence orders them
// so that no pending source is clobbered and breaks the remaining cycles by
// saving one location of each cycle into a temporary.
package pmove

// Move is the assignment Dst = Src.
type Move[L comparable] struct {
	Dst, Src L
	// Fixed marks a source that no move can overwrite, such as a constant or a
	// memory slot. Src is ignored when comparing with destinations.
	Fixed bool
	// Index lets callers find their own data for the move. Moves created to
	// break a cycle carry the Index of the move whose destination they save.
	Index int
}

// Sequence returns the moves of a parallel move in an order that is correct when
// executed one at a time. Moves whose source is their destination are dropped.
// tmp must not be a destination or source of any move; it is used at most once
// at a time, so a single temporary suffices for any number of cycles.
//
// Destinations must be distinct.
func Sequence[L comparable](moves []Move[L], tmp L) []Move[L] {
	pending := make([]Move[L], 0, len(moves))
	for _, m := range moves {
		if !m.Fixed && m.Src == m.Dst {
			continue
		}
		pending = append(pending, m)
	}

	out := make([]Move[L], 0, len(pending)+1)
	for len(pending) > 0 {
		progress := false
		for i := 0; i < len(pending); {
			m := pending[i]
			if readBy(pending, m.Dst, i) {
				i++
				continue
			}
			out = append(out, m)
			pending = append(pending[:i], pending[i+1:]...)
			progress = true
		}
		if progress {
			continue
		}

		// Every pending destination is still to be read: what is left are
		// simple cycles. Copy one member of a cycle to tmp so that it can be
		// overwritten, and read the saved value from tmp instead.
		//   A ----> B
		//   ^       |
		//   |       v
		//   D <---- C <---- tmp = copy of C
		saved := pending[0].Dst
		out = append(out, Move[L]{Dst: tmp, Src: saved, Index: pending[0].Index})
		for i := range pending {
			if !pending[i].Fixed && pending[i].Src == saved {
				pending[i].Src = tmp
			}
		}
	}
	return out
}

// readBy reports whether a pending move other than skip reads loc.
func readBy[L comparable](pending []Move[L], loc L, skip int) bool {
	for i, m := range pending {
		if i != skip && !m.Fixed && m.Src == loc {
			return true
		}
	}
	return false
}
