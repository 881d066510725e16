package pyramid

// Queue is the ordered list of tiles a layer wants fetched, head first.
// It is not safe for concurrent use; the owning cache serializes access.
type Queue struct {
	tiles []*Tile
}

// Reset replaces the queue content.
func (q *Queue) Reset(tiles []*Tile) {
	q.tiles = append(q.tiles[:0], tiles...)
}

func (q *Queue) Len() int {
	return len(q.tiles)
}

// Head returns the next tile without removing it, nil when empty.
func (q *Queue) Head() *Tile {
	if len(q.tiles) == 0 {
		return nil
	}
	return q.tiles[0]
}

// Pop removes and returns the head, nil when empty.
func (q *Queue) Pop() *Tile {
	if len(q.tiles) == 0 {
		return nil
	}
	t := q.tiles[0]
	q.tiles[0] = nil
	q.tiles = q.tiles[1:]
	return t
}

// Compact drops entries whose fetch was already started elsewhere and
// returns how many were dropped. Order of the rest is kept.
func (q *Queue) Compact() int {
	kept := q.tiles[:0]
	for _, t := range q.tiles {
		if t.Requested() {
			continue
		}
		kept = append(kept, t)
	}
	dropped := len(q.tiles) - len(kept)
	for i := len(kept); i < len(q.tiles); i++ {
		q.tiles[i] = nil
	}
	q.tiles = kept
	return dropped
}

// Tiles returns a copy of the queued tiles in order.
func (q *Queue) Tiles() []*Tile {
	out := make([]*Tile, len(q.tiles))
	copy(out, q.tiles)
	return out
}
