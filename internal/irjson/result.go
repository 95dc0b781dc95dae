package irjson

import (
	"encoding/hex"
	"io"

	"github.com/segmentio/encoding/json"

	"github.com/jncronin/tysos-sub010/internal/asm"
	"github.com/jncronin/tysos-sub010/internal/ir"
)

// Result is the compiled form of a method.
type Result struct {
	Name      string `json:"name"`
	FrameSize int64  `json:"frame_size"`
	// Blocks lists the machine code of each block, one instruction per line.
	Blocks [][]string `json:"blocks"`
	// Code is the hex encoded machine code, when encoding ran.
	Code         string   `json:"code,omitempty"`
	BlockOffsets []uint64 `json:"block_offsets,omitempty"`
	Relocs       []Reloc  `json:"relocs,omitempty"`
}

// Reloc is a relocation of Result.Code.
type Reloc struct {
	Offset uint64 `json:"offset"`
	Kind   string `json:"kind"`
	Symbol string `json:"symbol"`
	Addend int64  `json:"addend,omitempty"`
}

// NewResult describes the finished graph g; code may be nil.
func NewResult(g *ir.Graph, names ir.MachNamer, frameSize int64, code *asm.Code) Result {
	r := Result{Name: g.Name, FrameSize: frameSize, Blocks: make([][]string, len(g.Blocks))}
	for i, blk := range g.Blocks {
		lines := []string{}
		for _, m := range blk.MachineCode() {
			lines = append(lines, m.Format(names))
		}
		r.Blocks[i] = lines
	}
	if code != nil {
		r.Code = hex.EncodeToString(code.Bytes)
		r.BlockOffsets = code.BlockOffsets
		for _, rel := range code.Relocs {
			r.Relocs = append(r.Relocs, Reloc{Offset: rel.Offset, Kind: rel.Kind.String(), Symbol: rel.Symbol, Addend: rel.Addend})
		}
	}
	return r
}

// WriteResults writes rs to w as an indented JSON array.
func WriteResults(w io.Writer, rs []Result) error {
	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
