package pyramid

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// Unrequested is the Missing value of a tile no fetch was ever started for.
const Unrequested = -1

// Tile is one cell of one pyramid level plus its fetch lifecycle.
type Tile struct {
	Index int
	Level int
	X, Y  int
	// W and H are set by single-image layouts only.
	W, H int
	// BBox is expressed in full resolution image pixels.
	BBox orb.Bound

	// Byte addressing for archive formats. Carried for the fetcher only.
	Start, End int64
	Offsets    []int64

	// Tex holds one opaque resource handle per channel.
	Tex []interface{}
	// Missing counts channels still in flight. Unrequested until the
	// first LoadTile, 0 once renderable.
	Missing int

	Time     time.Time
	Priority int
	Size     int64

	// Complete is false when the tile stands in for finer tiles that are
	// not loaded yet.
	Complete bool
}

// NewTile returns an unrequested tile.
func NewTile(index, level, x, y int) *Tile {
	return &Tile{
		Index:   index,
		Level:   level,
		X:       x,
		Y:       y,
		Missing: Unrequested,
	}
}

// Ready reports whether every channel has landed.
func (t *Tile) Ready() bool {
	return t.Missing == 0
}

// Requested reports whether a fetch was started, whatever its outcome so far.
func (t *Tile) Requested() bool {
	return t.Missing != Unrequested
}

// Pending reports whether channels are still in flight.
func (t *Tile) Pending() bool {
	return t.Missing > 0
}

// Reset returns the tile to the unrequested state and forgets its resources.
func (t *Tile) Reset() {
	t.Missing = Unrequested
	t.Tex = nil
	t.Size = 0
	t.Complete = false
}

func (t *Tile) String() string {
	return fmt.Sprintf("tile(%d, z:%d, x:%d, y:%d)", t.Index, t.Level, t.X, t.Y)
}
