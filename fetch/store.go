package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"tilestream/pyramid"
)

// Store keeps fetched channels on disk as <root>/<z>/<x>/<y>[_<channel>].<format>.
type Store struct {
	Root   string
	Format string
}

func (s *Store) Path(t *pyramid.Tile, channel int) string {
	name := fmt.Sprintf("%d", t.Y)
	if channel > 0 {
		name = fmt.Sprintf("%d_%d", t.Y, channel)
	}
	if s.Format != "" {
		name += "." + s.Format
	}
	return filepath.Join(s.Root, fmt.Sprintf("%d", t.Level), fmt.Sprintf("%d", t.X), name)
}

// Get returns the stored channel; ok is false when it was never stored.
func (s *Store) Get(t *pyramid.Tile, channel int) (data []byte, ok bool, err error) {
	data, err = os.ReadFile(s.Path(t, channel))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "reading stored %s", t)
	}
	return data, true, nil
}

func (s *Store) Put(t *pyramid.Tile, channel int, data []byte) error {
	path := s.Path(t, channel)
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return errors.Wrapf(err, "creating directory for %s", t)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "storing %s", t)
	}
	return nil
}

// Cached reads through a Store, filling it from Next on a miss.
type Cached struct {
	Store  *Store
	Next   Fetcher
	Logger logrus.FieldLogger
}

func (c *Cached) Fetch(ctx context.Context, t *pyramid.Tile, channel int) ([]byte, error) {
	log := c.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	data, ok, err := c.Store.Get(t, channel)
	if err != nil {
		log.WithError(err).Warn("tile store read failed, fetching")
	}
	if ok {
		return data, nil
	}
	data, err = c.Next.Fetch(ctx, t, channel)
	if err != nil {
		return nil, err
	}
	if err := c.Store.Put(t, channel, data); err != nil {
		log.WithError(err).Errorf("create %s file error", t)
	}
	return data, nil
}
