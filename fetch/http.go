// Package fetch retrieves the bytes of tile channels.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"tilestream/pyramid"
)

// ErrEmptyTile is returned for a successful response without a body.
var ErrEmptyTile = errors.New("empty tile")

// Fetcher returns the bytes of one channel of a tile.
type Fetcher interface {
	Fetch(ctx context.Context, t *pyramid.Tile, channel int) ([]byte, error)
}

// HTTP fetches tiles from a URL template. The template may use {z} or
// {level}, {x}, {y}, {index} and {channel}.
type HTTP struct {
	Template string
	Client   *http.Client
	Header   http.Header
	Logger   logrus.FieldLogger
}

// NewHTTP returns a fetcher with a client timing out after timeout.
func NewHTTP(template string, timeout time.Duration, logger logrus.FieldLogger) *HTTP {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HTTP{
		Template: template,
		Client:   &http.Client{Timeout: timeout},
		Logger:   logger,
	}
}

// URL expands the template for a tile channel.
func (h *HTTP) URL(t *pyramid.Tile, channel int) string {
	level := strconv.Itoa(t.Level)
	r := strings.NewReplacer(
		"{z}", level,
		"{level}", level,
		"{x}", strconv.Itoa(t.X),
		"{y}", strconv.Itoa(t.Y),
		"{index}", strconv.Itoa(t.Index),
		"{channel}", strconv.Itoa(channel),
	)
	return r.Replace(h.Template)
}

// byteRange returns the Range header value for archive formats, "" when
// the whole resource is wanted. Offsets delimit channels; Start and End
// delimit the tile.
func byteRange(t *pyramid.Tile, channel int) string {
	if channel+1 < len(t.Offsets) {
		return fmt.Sprintf("bytes=%d-%d", t.Offsets[channel], t.Offsets[channel+1]-1)
	}
	if t.End > t.Start {
		return fmt.Sprintf("bytes=%d-%d", t.Start, t.End-1)
	}
	return ""
}

func (h *HTTP) Fetch(ctx context.Context, t *pyramid.Tile, channel int) ([]byte, error) {
	start := time.Now()
	url := h.URL(t, channel)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "building request for %s", url)
	}
	req = req.WithContext(ctx)
	for k, vs := range h.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if rng := byteRange(t, channel); rng != "" {
		req.Header.Set("Range", rng)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, errors.Errorf("fetching %s: status code %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", url)
	}
	if len(body) == 0 {
		return nil, errors.Wrapf(ErrEmptyTile, "fetching %s", url)
	}

	h.Logger.Debugf("%s channel %d, %dms, %.2f kb, %s", t, channel, time.Since(start).Milliseconds(), float32(len(body))/1024.0, url)
	return body, nil
}
