package pyramid

import (
	"math"
	"sort"
	"time"
)

// Box is a half-open range of cells of one level.
type Box struct {
	XLow, YLow   int
	XHigh, YHigh int
}

func (b Box) Empty() bool {
	return b.XLow >= b.XHigh || b.YLow >= b.YHigh
}

// Cells is the number of cells inside the box.
func (b Box) Cells() int {
	if b.Empty() {
		return 0
	}
	return (b.XHigh - b.XLow) * (b.YHigh - b.YLow)
}

func (b Box) center() (float64, float64) {
	return float64(b.XLow+b.XHigh) / 2, float64(b.YLow+b.YHigh) / 2
}

// NeededBox returns the target level and, for every level up to it, the
// cells covering the viewport plus the border.
func (p *Pyramid) NeededBox(v View) (int, []Box) {
	total := v.total()
	target := p.TargetLevel(total, v.Bias)
	area := total.InverseBox(v.Viewport)
	boxes := make([]Box, target+1)
	for level := 0; level <= target; level++ {
		s := p.side(level)
		l := p.levels[level]
		boxes[level] = Box{
			XLow:  clampCell(math.Floor(area.Min[0]/s)-float64(v.Border), l.Width),
			YLow:  clampCell(math.Floor(area.Min[1]/s)-float64(v.Border), l.Height),
			XHigh: clampCell(math.Ceil(area.Max[0]/s)+float64(v.Border), l.Width),
			YHigh: clampCell(math.Ceil(area.Max[1]/s)+float64(v.Border), l.Height),
		}
	}
	return target, boxes
}

func clampCell(v float64, hi int) int {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > float64(hi) {
		return hi
	}
	return int(v)
}

type rankedTile struct {
	tile *Tile
	dist float64
}

// Needed refreshes Time and Priority of every tile under the view, adding
// the missing ones to tiles, and returns those never requested, coarse
// levels first and nearest to the view center first within a level.
// Unrequested tiles left outside the view are removed from tiles.
func (p *Pyramid) Needed(v View, tiles map[int]*Tile, now time.Time) []*Tile {
	target, boxes := p.NeededBox(v)
	var needed []*Tile
	for level := 0; level <= target; level++ {
		box := boxes[level]
		cx, cy := box.center()
		priority := target - level
		ranked := make([]rankedTile, 0, box.Cells())
		for y := box.YLow; y < box.YHigh; y++ {
			for x := box.XLow; x < box.XHigh; x++ {
				index := p.Index(level, x, y)
				t, ok := tiles[index]
				if !ok {
					t = p.NewTile(index)
					tiles[index] = t
				}
				t.Time = now
				t.Priority = priority
				if t.Requested() || priority > p.cacheLevels {
					continue
				}
				dx := float64(x) + 0.5 - cx
				dy := float64(y) + 0.5 - cy
				ranked = append(ranked, rankedTile{tile: t, dist: dx*dx + dy*dy})
			}
		}
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].dist < ranked[j].dist
		})
		for _, r := range ranked {
			needed = append(needed, r.tile)
		}
	}
	for index, t := range tiles {
		if !t.Requested() && t.Time.Before(now) {
			delete(tiles, index)
		}
	}
	return needed
}

// Available returns the tiles to draw for the view, keyed by index. Each
// target cell is served by its own tile when ready, otherwise by the
// nearest ready ancestor. Cells without any ready ancestor are left out.
// A drawn tile is Complete only at the target level and only when no cell
// of its 2x2 sibling group, at any level walked, fell back to a coarser
// tile drawn underneath.
func (p *Pyramid) Available(v View, tiles map[int]*Tile) map[int]*Tile {
	target, boxes := p.NeededBox(v)
	box := boxes[target]
	render := make(map[int]*Tile)
	partial := make(map[int]bool)
	var walked []int
	for y := box.YLow; y < box.YHigh; y++ {
		for x := box.XLow; x < box.XHigh; x++ {
			walked = walked[:0]
			for level := target; level >= 0; level-- {
				d := uint(target - level)
				cx, cy := x>>d, y>>d
				index := p.Index(level, cx, cy)
				if t, ok := tiles[index]; ok && t.Ready() {
					t.Complete = d == 0
					render[index] = t
					for _, sibling := range walked {
						partial[sibling] = true
					}
					break
				}
				walked = p.appendSiblings(walked, level, cx, cy)
			}
		}
	}
	for index := range partial {
		if t, ok := render[index]; ok {
			t.Complete = false
		}
	}
	return render
}

// appendSiblings appends the indexes of the 2x2 group holding (x, y).
func (p *Pyramid) appendSiblings(indexes []int, level, x, y int) []int {
	for sy := y &^ 1; sy <= y|1; sy++ {
		for sx := x &^ 1; sx <= x|1; sx++ {
			if index := p.Index(level, sx, sy); index >= 0 {
				indexes = append(indexes, index)
			}
		}
	}
	return indexes
}
