// Package layer binds a tile pyramid and a fetcher to a shared cache.
package layer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"

	"tilestream/cache"
	"tilestream/fetch"
	"tilestream/metrics"
	"tilestream/pyramid"
)

type Config struct {
	Name string
	// Channels is the number of resources fetched per tile. Defaults to 1.
	Channels int
	Logger   logrus.FieldLogger
}

// Layer is one image streamed through a cache. Its queue and tiles are
// only touched with the cache lock held.
type Layer struct {
	id       string
	name     string
	channels int
	log      logrus.FieldLogger

	pyramid *pyramid.Pyramid
	cache   *cache.Cache
	fetcher fetch.Fetcher

	queue pyramid.Queue
	tiles map[int]*pyramid.Tile

	ctx    context.Context
	cancel context.CancelFunc

	loaded int64
	failed int64
}

// New returns a layer registered with c.
func New(p *pyramid.Pyramid, c *cache.Cache, f fetch.Fetcher, cfg Config) (*Layer, error) {
	if p == nil || c == nil || f == nil {
		return nil, errors.New("layer needs a pyramid, a cache and a fetcher")
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	id, err := shortid.Generate()
	if err != nil {
		return nil, errors.Wrap(err, "generating layer id")
	}
	if cfg.Name == "" {
		cfg.Name = id
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Layer{
		id:       id,
		name:     cfg.Name,
		channels: cfg.Channels,
		log:      cfg.Logger.WithField("layer", cfg.Name),
		pyramid:  p,
		cache:    c,
		fetcher:  f,
		tiles:    make(map[int]*pyramid.Tile),
		ctx:      ctx,
		cancel:   cancel,
	}
	l.log.WithFields(logrus.Fields{
		"levels":      p.NumLevels(),
		"cacheLevels": p.CacheLevels(),
		"channels":    l.channels,
	}).Debug("layer created")
	c.Register(l)
	return l, nil
}

func (l *Layer) ID() string {
	return l.id
}

func (l *Layer) Name() string {
	return l.name
}

func (l *Layer) Pyramid() *pyramid.Pyramid {
	return l.pyramid
}

// SetView queues the tiles the view needs and asks the cache for a tick.
func (l *Layer) SetView(v pyramid.View) {
	now := time.Now()
	var queued int
	l.cache.Exclusive(func() {
		l.queue.Reset(l.pyramid.Needed(v, l.tiles, now))
		queued = l.queue.Len()
	})
	l.log.WithField("queued", queued).Debug("view updated")
	l.cache.Schedule()
}

// Available returns a snapshot of the tiles to draw for the view.
func (l *Layer) Available(v pyramid.View) map[int]pyramid.Tile {
	out := make(map[int]pyramid.Tile)
	l.cache.Exclusive(func() {
		for index, t := range l.pyramid.Available(v, l.tiles) {
			out[index] = *t
		}
	})
	return out
}

// Pending counts tiles queued or in flight.
func (l *Layer) Pending() int {
	var n int
	l.cache.Exclusive(func() {
		n = l.queue.Len()
		for _, t := range l.tiles {
			if t.Pending() {
				n++
			}
		}
	})
	return n
}

// Loaded is the number of tiles fetched so far.
func (l *Layer) Loaded() int64 {
	return atomic.LoadInt64(&l.loaded)
}

// Failed is the number of tile fetches that failed so far.
func (l *Layer) Failed() int64 {
	return atomic.LoadInt64(&l.failed)
}

func (l *Layer) Queue() *pyramid.Queue {
	return &l.queue
}

func (l *Layer) Tiles() map[int]*pyramid.Tile {
	return l.tiles
}

// load tracks the channels of one tile fetch.
type load struct {
	tile      *pyramid.Tile
	remaining int
	size      int64
	err       error
}

func (l *Layer) LoadTile(t *pyramid.Tile, done cache.DoneFunc) error {
	if t.Requested() {
		return cache.ErrDuplicateRequest
	}
	if err := l.ctx.Err(); err != nil {
		return errors.Wrap(err, "layer closed")
	}
	t.Missing = l.channels
	t.Tex = make([]interface{}, l.channels)
	ld := &load{tile: t, remaining: l.channels}
	for ch := 0; ch < l.channels; ch++ {
		go l.fetchChannel(ld, ch, done)
	}
	return nil
}

func (l *Layer) fetchChannel(ld *load, ch int, done cache.DoneFunc) {
	start := time.Now()
	data, err := l.fetcher.Fetch(l.ctx, ld.tile, ch)
	metrics.FetchLatency.WithLabelValues(l.name, metrics.Result(err)).Observe(time.Since(start).Seconds())

	var last bool
	l.cache.Exclusive(func() {
		ld.remaining--
		last = ld.remaining == 0
		if err != nil {
			if ld.err == nil {
				ld.err = err
			}
		} else if ld.err == nil {
			ld.tile.Tex[ch] = data
			ld.tile.Missing--
			ld.size += int64(len(data))
		}
		switch {
		case !last:
		case ld.err != nil:
			ld.tile.Reset()
			atomic.AddInt64(&l.failed, 1)
		default:
			atomic.AddInt64(&l.loaded, 1)
		}
	})
	if !last {
		return
	}
	if ld.err != nil {
		l.log.WithField("tile", ld.tile).WithError(ld.err).Debug("tile fetch failed")
		done(ld.err, 0)
		return
	}
	done(nil, ld.size)
}

func (l *Layer) DropTile(t *pyramid.Tile) {
	if cur, ok := l.tiles[t.Index]; ok && cur == t {
		delete(l.tiles, t.Index)
	}
	t.Reset()
}

// Close cancels the fetches in flight and leaves the cache.
func (l *Layer) Close() {
	l.cancel()
	l.cache.Unregister(l)
}
