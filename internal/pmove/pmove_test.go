package pmove

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// simulate runs moves sequentially over an initial state where every location
// holds its own name, and fixed sources hold "imm".
func simulate(moves []Move[string]) map[string]string {
	state := map[string]string{}
	read := func(l string) string {
		if v, ok := state[l]; ok {
			return v
		}
		return l
	}
	for _, m := range moves {
		if m.Fixed {
			state[m.Dst] = "imm:" + m.Src
		} else {
			state[m.Dst] = read(m.Src)
		}
	}
	return state
}

func TestSequence(t *testing.T) {
	for _, tc := range []struct {
		name   string
		moves  []Move[string]
		exp    map[string]string
		expLen int
	}{
		{
			name:   "independent",
			moves:  []Move[string]{{Dst: "a", Src: "x"}, {Dst: "b", Src: "y"}},
			exp:    map[string]string{"a": "x", "b": "y"},
			expLen: 2,
		},
		{
			name: "chain",
			// b <- a, c <- b: c must be written first.
			moves:  []Move[string]{{Dst: "b", Src: "a"}, {Dst: "c", Src: "b"}},
			exp:    map[string]string{"b": "a", "c": "b"},
			expLen: 2,
		},
		{
			name:   "swap",
			moves:  []Move[string]{{Dst: "a", Src: "b"}, {Dst: "b", Src: "a"}},
			exp:    map[string]string{"a": "b", "b": "a"},
			expLen: 3,
		},
		{
			name:   "rotation",
			moves:  []Move[string]{{Dst: "a", Src: "b"}, {Dst: "b", Src: "c"}, {Dst: "c", Src: "a"}},
			exp:    map[string]string{"a": "b", "b": "c", "c": "a"},
			expLen: 4,
		},
		{
			name: "two cycles and fixed source",
			moves: []Move[string]{
				{Dst: "a", Src: "b"}, {Dst: "b", Src: "a"},
				{Dst: "c", Src: "d"}, {Dst: "d", Src: "c"},
				{Dst: "e", Src: "5", Fixed: true},
			},
			exp:    map[string]string{"a": "b", "b": "a", "c": "d", "d": "c", "e": "imm:5"},
			expLen: 7,
		},
		{
			name:   "self move dropped",
			moves:  []Move[string]{{Dst: "a", Src: "a"}, {Dst: "b", Src: "a"}},
			exp:    map[string]string{"b": "a"},
			expLen: 1,
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			out := Sequence(tc.moves, "tmp")
			require.Equal(t, tc.expLen, len(out))
			state := simulate(out)
			delete(state, "tmp")
			require.Equal(t, tc.exp, state)
		})
	}
}

func TestSequence_indexOfSave(t *testing.T) {
	out := Sequence([]Move[int]{{Dst: 1, Src: 2, Index: 7}, {Dst: 2, Src: 1, Index: 8}}, 99)
	require.Equal(t, Move[int]{Dst: 99, Src: 1, Index: 7}, out[0])
}
