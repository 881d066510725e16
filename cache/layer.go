package cache

import (
	"github.com/pkg/errors"

	"tilestream/pyramid"
)

// ErrDuplicateRequest is returned by LoadTile for a tile whose fetch was
// already started.
var ErrDuplicateRequest = errors.New("tile already requested")

// DoneFunc reports the end of a tile fetch and the bytes it now occupies.
type DoneFunc func(err error, size int64)

// Layer is what the cache needs from an image layer. The cache calls every
// method with its lock held, so implementations must not call back into the
// cache from them.
type Layer interface {
	// Queue holds the tiles waiting to be fetched, best first.
	Queue() *pyramid.Queue
	// Tiles holds every tile the layer knows, by index.
	Tiles() map[int]*pyramid.Tile
	// LoadTile starts fetching all channels of the tile and returns at once.
	// done must be called exactly once, and never before LoadTile returns.
	LoadTile(t *pyramid.Tile, done DoneFunc) error
	// DropTile releases the tile resources and forgets the tile.
	DropTile(t *pyramid.Tile)
}
