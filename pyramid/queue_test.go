package pyramid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueuePopOrder(t *testing.T) {
	var q Queue
	assert.Nil(t, q.Head())
	assert.Nil(t, q.Pop())

	a, b := NewTile(1, 0, 0, 0), NewTile(2, 1, 0, 0)
	q.Reset([]*Tile{a, b})
	assert.Equal(t, 2, q.Len())
	assert.Same(t, a, q.Head())
	assert.Same(t, a, q.Pop())
	assert.Same(t, b, q.Pop())
	assert.Equal(t, 0, q.Len())
}

func TestQueueCompactDropsRequested(t *testing.T) {
	tiles := []*Tile{NewTile(1, 0, 0, 0), NewTile(2, 0, 0, 0), NewTile(3, 0, 0, 0), NewTile(4, 0, 0, 0)}
	var q Queue
	q.Reset(tiles)
	tiles[0].Missing = 0
	tiles[2].Missing = 2

	assert.Equal(t, 2, q.Compact())
	assert.Equal(t, []*Tile{tiles[1], tiles[3]}, q.Tiles())
	assert.Equal(t, 0, q.Compact())
}

func TestQueueResetDoesNotAlias(t *testing.T) {
	src := []*Tile{NewTile(1, 0, 0, 0), NewTile(2, 0, 0, 0)}
	var q Queue
	q.Reset(src)
	q.Pop()
	assert.Equal(t, 1, src[0].Index)
	assert.Len(t, q.Tiles(), 1)
}
