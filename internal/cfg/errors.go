package cfg

import (
	"github.com/jncronin/tysos-sub010/internal/ir"
	"github.com/jncronin/tysos-sub010/internal/tysilaapi"
)

func errOutOfRange(from int, to ir.BlockID) error {
	return tysilaapi.Structural("cfg", "edge blk%d -> blk%d refers to a missing block", from, to)
}
