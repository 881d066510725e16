// Package pyramid addresses the tiles of a multi-resolution image and
// computes, for a view, which tiles have to be fetched and which can be
// rendered.
package pyramid

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

// ErrInvalidConfig is returned by New for unusable pyramid geometry.
var ErrInvalidConfig = errors.New("invalid pyramid config")

// Level is one resolution of the pyramid. Level 0 is the coarsest.
type Level struct {
	// Width and Height of the grid, in tiles.
	Width, Height int
	// Start and End bound the linear indexes of the level: [Start, End).
	Start, End int
}

// Config describes the pyramid as found in the format metadata.
type Config struct {
	TileSize      int
	Width, Height int
	// Grids overrides the computed grid sizes, coarsest first. Only Width
	// and Height are read.
	Grids []Level
	// CacheLevels bounds how many levels coarser than the target are
	// prefetched. 0 fetches the target level only.
	CacheLevels int
}

// Pyramid maps tile coordinates to indexes and views to tiles.
type Pyramid struct {
	tileSize      int
	width, height int
	cacheLevels   int
	levels        []Level
	image         bool
}

// New builds a pyramid halving the image until it fits one tile.
func New(cfg Config) (*Pyramid, error) {
	if cfg.TileSize <= 0 || cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "tile size %d, image %dx%d", cfg.TileSize, cfg.Width, cfg.Height)
	}
	if cfg.CacheLevels < 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "cache levels %d", cfg.CacheLevels)
	}
	grids := cfg.Grids
	if len(grids) == 0 {
		grids = computeGrids(cfg.TileSize, cfg.Width, cfg.Height)
	}
	p := &Pyramid{
		tileSize:    cfg.TileSize,
		width:       cfg.Width,
		height:      cfg.Height,
		cacheLevels: cfg.CacheLevels,
		levels:      make([]Level, len(grids)),
	}
	start := 0
	for i, g := range grids {
		if g.Width <= 0 || g.Height <= 0 {
			return nil, errors.Wrapf(ErrInvalidConfig, "level %d grid %dx%d", i, g.Width, g.Height)
		}
		p.levels[i] = Level{
			Width:  g.Width,
			Height: g.Height,
			Start:  start,
			End:    start + g.Width*g.Height,
		}
		start = p.levels[i].End
	}
	return p, nil
}

// NewImage builds the single tile layout of a plain image.
func NewImage(width, height int) (*Pyramid, error) {
	size := width
	if height > size {
		size = height
	}
	p, err := New(Config{TileSize: size, Width: width, Height: height})
	if err != nil {
		return nil, err
	}
	p.image = true
	return p, nil
}

func computeGrids(tileSize, width, height int) []Level {
	n := 1
	for side := tileSize; side < width || side < height; side *= 2 {
		n++
	}
	grids := make([]Level, n)
	for l := 0; l < n; l++ {
		scale := 1 << uint(n-1-l)
		lw := (width + scale - 1) / scale
		lh := (height + scale - 1) / scale
		grids[l] = Level{
			Width:  (lw + tileSize - 1) / tileSize,
			Height: (lh + tileSize - 1) / tileSize,
		}
	}
	return grids
}

func (p *Pyramid) NumLevels() int {
	return len(p.levels)
}

func (p *Pyramid) Level(level int) Level {
	return p.levels[level]
}

func (p *Pyramid) TileSize() int {
	return p.tileSize
}

func (p *Pyramid) CacheLevels() int {
	return p.cacheLevels
}

// NumTiles is the total number of tiles over all levels.
func (p *Pyramid) NumTiles() int {
	return p.levels[len(p.levels)-1].End
}

// Index returns the linear index of a cell, -1 outside the grid.
func (p *Pyramid) Index(level, x, y int) int {
	if level < 0 || level >= len(p.levels) {
		return -1
	}
	l := p.levels[level]
	if x < 0 || y < 0 || x >= l.Width || y >= l.Height {
		return -1
	}
	return l.Start + y*l.Width + x
}

// ReverseIndex recovers the cell of a linear index.
func (p *Pyramid) ReverseIndex(index int) (level, x, y int, ok bool) {
	if index < 0 {
		return 0, 0, 0, false
	}
	for level = 0; level < len(p.levels); level++ {
		l := p.levels[level]
		size := l.Width * l.Height
		if index-size < 0 {
			return level, index % l.Width, index / l.Width, true
		}
		index -= size
	}
	return 0, 0, 0, false
}

// side is the edge of a tile of the level, in full resolution pixels.
func (p *Pyramid) side(level int) float64 {
	return math.Ldexp(float64(p.tileSize), len(p.levels)-1-level)
}

// NewTile returns the unrequested tile of an index, nil if out of range.
func (p *Pyramid) NewTile(index int) *Tile {
	level, x, y, ok := p.ReverseIndex(index)
	if !ok {
		return nil
	}
	t := NewTile(index, level, x, y)
	if p.image {
		t.W, t.H = p.width, p.height
		t.BBox = orb.Bound{Max: orb.Point{float64(p.width), float64(p.height)}}
		return t
	}
	s := p.side(level)
	t.BBox = orb.Bound{
		Min: orb.Point{float64(x) * s, float64(y) * s},
		Max: orb.Point{
			math.Min(float64(x+1)*s, float64(p.width)),
			math.Min(float64(y+1)*s, float64(p.height)),
		},
	}
	return t
}

// TargetLevel is the level whose resolution matches the zoom, shifted by
// bias and clamped to the pyramid. Bias 1 picks the level with one texel
// per screen pixel; bias 0 oversamples by one level, so a zoom of 0.5
// already selects full resolution.
func (p *Pyramid) TargetLevel(t Transform, bias float64) int {
	t = t.orIdentity()
	last := len(p.levels) - 1
	f := float64(last) + math.Log2(math.Abs(t.Z)) + 1 - bias
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f >= float64(last) {
		return last
	}
	return int(math.Floor(f))
}
