// Package cache decides, across every registered layer, which tile to fetch
// next and which resident tile to evict, under a byte budget, a cap on
// concurrent fetches and a cap on the request rate.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
	"golang.org/x/time/rate"

	"tilestream/metrics"
	"tilestream/pyramid"
)

// DefaultHysteresis is how much newer a candidate must be to win over a
// higher priority one.
const DefaultHysteresis = time.Millisecond

// ErrInvalidConfig is returned by New for unusable budgets.
var ErrInvalidConfig = errors.New("invalid cache config")

type Config struct {
	// Capacity is the byte budget of resident tiles.
	Capacity int64
	// MaxRequest caps concurrent fetches.
	MaxRequest int
	// MaxRequestsRate caps fetches per second. 0 disables the cap.
	MaxRequestsRate float64
	// Hysteresis defaults to DefaultHysteresis; negative disables it.
	Hysteresis time.Duration
	Logger     logrus.FieldLogger
}

// Cache is the resource manager shared by the layers of a session.
type Cache struct {
	id  string
	cfg Config
	log logrus.FieldLogger
	now func() time.Time

	mu     sync.Mutex
	layers []Layer
	used   int64
	// inflight is keyed by admission: a tile reset by a failed fetch and
	// admitted again before the first done lands holds two slots.
	inflight    map[*entry]struct{}
	limiter     *rate.Limiter
	lastRequest time.Time
	timer       *time.Timer
	closed      bool

	kick chan struct{}
}

type entry struct {
	layer Layer
	tile  *pyramid.Tile
}

// New validates the budgets and returns an idle cache.
func New(cfg Config) (*Cache, error) {
	if cfg.Capacity <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "capacity %d", cfg.Capacity)
	}
	if cfg.MaxRequest < 1 {
		return nil, errors.Wrapf(ErrInvalidConfig, "max request %d", cfg.MaxRequest)
	}
	if cfg.MaxRequestsRate < 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "max requests rate %g", cfg.MaxRequestsRate)
	}
	switch {
	case cfg.Hysteresis == 0:
		cfg.Hysteresis = DefaultHysteresis
	case cfg.Hysteresis < 0:
		cfg.Hysteresis = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	id, err := shortid.Generate()
	if err != nil {
		return nil, errors.Wrap(err, "generating cache id")
	}
	c := &Cache{
		id:       id,
		cfg:      cfg,
		log:      cfg.Logger.WithField("cache", id),
		now:      time.Now,
		inflight: make(map[*entry]struct{}),
		kick:     make(chan struct{}, 1),
	}
	if cfg.MaxRequestsRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRequestsRate), 1)
	}
	metrics.CacheCapacityBytes.WithLabelValues(id).Set(float64(cfg.Capacity))
	c.updateGaugesLocked()
	return c, nil
}

func (c *Cache) ID() string {
	return c.id
}

// Register adds the layer to the scheduling scan and schedules a tick.
// Registering a layer twice has no effect.
func (c *Cache) Register(l Layer) {
	if l == nil {
		panic("cache: Register of nil layer")
	}
	c.mu.Lock()
	if c.registeredLocked(l) {
		c.mu.Unlock()
		return
	}
	c.layers = append(c.layers, l)
	c.updateGaugesLocked()
	c.mu.Unlock()

	c.log.WithField("layers", c.Stats().Layers).Debug("layer registered")
	c.Schedule()
}

// Unregister evicts the resident tiles of the layer and stops scanning it.
// Fetches still in flight for it are discarded when they complete.
func (c *Cache) Unregister(l Layer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.layers {
		if r != l {
			continue
		}
		c.flushLocked(l)
		c.layers = append(c.layers[:i], c.layers[i+1:]...)
		c.updateGaugesLocked()
		c.log.Debug("layer unregistered")
		return
	}
}

func (c *Cache) registeredLocked(l Layer) bool {
	for _, r := range c.layers {
		if r == l {
			return true
		}
	}
	return false
}

// Exclusive runs fn with the cache lock held. Layers mutate their queue and
// tiles only from inside it.
func (c *Cache) Exclusive(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

// Schedule asks for a tick from Run. Requests made while one is pending
// are merged into it.
func (c *Cache) Schedule() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Run performs scheduled ticks until ctx is done.
func (c *Cache) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.kick:
			c.Tick()
		}
	}
}

// Close stops the rate limit timer. Later ticks do nothing.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Tick evicts what has to go and admits at most one fetch.
func (c *Cache) Tick() {
	c.mu.Lock()
	admitted := c.tickLocked()
	c.mu.Unlock()
	if admitted {
		c.Schedule()
	}
}

func (c *Cache) tickLocked() bool {
	if c.closed {
		return false
	}
	if len(c.inflight) >= c.cfg.MaxRequest {
		return false
	}
	now := c.now()
	res, ok := c.reserveLocked(now)
	if !ok {
		return false
	}
	c.compactQueuesLocked()
	best, ok := c.bestCandidateLocked()
	if !ok {
		cancelReservation(res, now)
		return false
	}
	if !c.makeRoomLocked(best.tile) {
		cancelReservation(res, now)
		metrics.CacheDeadlocks.WithLabelValues(c.id).Inc()
		c.log.WithFields(logrus.Fields{
			"tile":     best.tile,
			"used":     c.used,
			"capacity": c.cfg.Capacity,
		}).Debug("no tile older than the candidate can be evicted, admission deferred")
		return false
	}
	if !c.admitLocked(best, now) {
		cancelReservation(res, now)
	}
	return true
}

// reserveLocked takes the admission token from the rate limiter. A token
// not due yet is handed back, and a single timer ticks again once it is.
// The reservation is nil when the rate is not capped.
func (c *Cache) reserveLocked(now time.Time) (*rate.Reservation, bool) {
	if c.limiter == nil {
		return nil, true
	}
	res := c.limiter.ReserveN(now, 1)
	if !res.OK() {
		return nil, false
	}
	wait := res.DelayFrom(now)
	if wait <= 0 {
		return res, true
	}
	res.CancelAt(now)
	if c.timer == nil {
		c.timer = time.AfterFunc(wait, c.wake)
	}
	metrics.CacheRateLimited.WithLabelValues(c.id).Inc()
	return nil, false
}

// cancelReservation gives the token back when a tick admits nothing.
func cancelReservation(res *rate.Reservation, now time.Time) {
	if res != nil {
		res.CancelAt(now)
	}
}

func (c *Cache) wake() {
	c.mu.Lock()
	c.timer = nil
	c.mu.Unlock()
	c.Tick()
}

// compactQueuesLocked drops queue entries fetched through another path.
func (c *Cache) compactQueuesLocked() {
	for _, l := range c.layers {
		l.Queue().Compact()
	}
}

// bestCandidateLocked picks among the queue heads.
func (c *Cache) bestCandidateLocked() (entry, bool) {
	var best entry
	for _, l := range c.layers {
		head := l.Queue().Head()
		if head == nil {
			continue
		}
		if best.tile == nil || c.preferred(head, best.tile) {
			best = entry{layer: l, tile: head}
		}
	}
	return best, best.tile != nil
}

// preferred reports whether candidate a beats b: a clearly newer request
// wins, otherwise the higher priority does.
func (c *Cache) preferred(a, b *pyramid.Tile) bool {
	d := a.Time.Sub(b.Time)
	if d > c.cfg.Hysteresis {
		return true
	}
	if d < -c.cfg.Hysteresis {
		return false
	}
	return a.Priority > b.Priority
}

// worstTileLocked finds the resident tile to evict first: the least
// recently needed, then the lowest priority.
func (c *Cache) worstTileLocked() (entry, bool) {
	var worst entry
	for _, l := range c.layers {
		for _, t := range l.Tiles() {
			if !t.Ready() {
				continue
			}
			if c.inFlightLocked(t) {
				continue
			}
			if worst.tile == nil || worse(t, worst.tile) {
				worst = entry{layer: l, tile: t}
			}
		}
	}
	return worst, worst.tile != nil
}

func (c *Cache) inFlightLocked(t *pyramid.Tile) bool {
	for a := range c.inflight {
		if a.tile == t {
			return true
		}
	}
	return false
}

func worse(a, b *pyramid.Tile) bool {
	if !a.Time.Equal(b.Time) {
		return a.Time.Before(b.Time)
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Index < b.Index
}

// makeRoomLocked evicts until the budget holds, refusing to evict anything
// not strictly older than the candidate.
func (c *Cache) makeRoomLocked(candidate *pyramid.Tile) bool {
	for c.used > c.cfg.Capacity {
		worst, ok := c.worstTileLocked()
		if !ok || !worst.tile.Time.Before(candidate.Time) {
			return false
		}
		c.evictLocked(worst)
	}
	return true
}

// trimLocked brings used back under capacity after a completion, evicting
// only tiles not needed more recently than the completed one.
func (c *Cache) trimLocked(completed *pyramid.Tile) {
	for c.used > c.cfg.Capacity {
		worst, ok := c.worstTileLocked()
		if !ok || worst.tile.Time.After(completed.Time) {
			return
		}
		c.evictLocked(worst)
	}
}

func (c *Cache) evictLocked(e entry) {
	c.used -= e.tile.Size
	c.log.WithFields(logrus.Fields{
		"tile": e.tile,
		"size": e.tile.Size,
		"used": c.used,
	}).Debug("tile evicted")
	e.layer.DropTile(e.tile)
	metrics.CacheEvictions.WithLabelValues(c.id).Inc()
	c.updateGaugesLocked()
}

// admitLocked starts the fetch of best and reports whether the layer
// accepted it.
func (c *Cache) admitLocked(best entry, now time.Time) bool {
	best.layer.Queue().Pop()
	a := &best
	c.inflight[a] = struct{}{}
	c.updateGaugesLocked()

	if err := best.layer.LoadTile(best.tile, c.completion(a)); err != nil {
		delete(c.inflight, a)
		c.updateGaugesLocked()
		c.log.WithField("tile", best.tile).WithError(err).Warn("tile load rejected")
		return false
	}
	c.lastRequest = now
	c.log.WithFields(logrus.Fields{
		"tile":     best.tile,
		"priority": best.tile.Priority,
		"inflight": len(c.inflight),
	}).Debug("tile requested")
	return true
}

func (c *Cache) completion(e *entry) DoneFunc {
	var once sync.Once
	return func(err error, size int64) {
		once.Do(func() {
			c.complete(e, err, size)
		})
	}
}

func (c *Cache) complete(e *entry, err error, size int64) {
	c.mu.Lock()
	delete(c.inflight, e)
	metrics.CacheFetches.WithLabelValues(c.id, metrics.Result(err)).Inc()
	switch {
	case !c.registeredLocked(e.layer):
		if e.tile.Ready() {
			e.layer.DropTile(e.tile)
		}
	case err != nil && !e.tile.Ready():
		c.log.WithField("tile", e.tile).WithError(err).Debug("tile fetch failed")
	default:
		e.tile.Size = size
		c.used += size
		c.trimLocked(e.tile)
	}
	c.updateGaugesLocked()
	c.mu.Unlock()

	c.Tick()
}

// FlushLayer evicts every resident tile of the layer.
func (c *Cache) FlushLayer(l Layer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked(l)
}

func (c *Cache) flushLocked(l Layer) {
	var resident []*pyramid.Tile
	for _, t := range l.Tiles() {
		if t.Ready() && !c.inFlightLocked(t) {
			resident = append(resident, t)
		}
	}
	for _, t := range resident {
		c.evictLocked(entry{layer: l, tile: t})
	}
}

func (c *Cache) updateGaugesLocked() {
	metrics.CacheUsedBytes.WithLabelValues(c.id).Set(float64(c.used))
	metrics.CacheInFlight.WithLabelValues(c.id).Set(float64(len(c.inflight)))
	metrics.CacheLayers.WithLabelValues(c.id).Set(float64(len(c.layers)))
}
