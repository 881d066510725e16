package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilestream/pyramid"
)

func TestURLTemplate(t *testing.T) {
	h := NewHTTP("http://tiles/{z}/{x}/{y}.jpg?i={index}&c={channel}&l={level}", time.Second, nil)
	tile := pyramid.NewTile(42, 3, 5, 7)
	assert.Equal(t, "http://tiles/3/5/7.jpg?i=42&c=1&l=3", h.URL(tile, 1))
}

func TestByteRange(t *testing.T) {
	tile := pyramid.NewTile(1, 0, 0, 0)
	assert.Equal(t, "", byteRange(tile, 0))

	tile.Start, tile.End = 100, 200
	assert.Equal(t, "bytes=100-199", byteRange(tile, 0))

	tile.Offsets = []int64{100, 150, 200}
	assert.Equal(t, "bytes=100-149", byteRange(tile, 0))
	assert.Equal(t, "bytes=150-199", byteRange(tile, 1))
}

func TestFetchSendsRangeAndHeaders(t *testing.T) {
	var gotRange, gotAgent, gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		gotAgent = r.Header.Get("User-Agent")
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("tile bytes"))
	}))
	defer ts.Close()

	h := NewHTTP(ts.URL+"/archive/{z}", time.Second, nil)
	h.Header = http.Header{"User-Agent": []string{"tilestream-test"}}
	tile := pyramid.NewTile(9, 2, 1, 1)
	tile.Start, tile.End = 10, 20

	data, err := h.Fetch(context.Background(), tile, 0)
	require.NoError(t, err)
	assert.Equal(t, "tile bytes", string(data))
	assert.Equal(t, "bytes=10-19", gotRange)
	assert.Equal(t, "tilestream-test", gotAgent)
	assert.Equal(t, "/archive/2", gotPath)
}

func TestFetchErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty" {
			return
		}
		http.NotFound(w, r)
	}))
	defer ts.Close()
	tile := pyramid.NewTile(0, 0, 0, 0)

	_, err := NewHTTP(ts.URL+"/missing", time.Second, nil).Fetch(context.Background(), tile, 0)
	assert.Error(t, err)

	_, err = NewHTTP(ts.URL+"/empty", time.Second, nil).Fetch(context.Background(), tile, 0)
	assert.True(t, errors.Is(err, ErrEmptyTile))
}

func TestFetchHonoursContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHTTP(ts.URL, 5*time.Second, nil).Fetch(ctx, pyramid.NewTile(0, 0, 0, 0), 0)
	assert.Error(t, err)
}

type countingFetcher struct {
	calls int32
	data  []byte
	err   error
}

func (f *countingFetcher) Fetch(ctx context.Context, t *pyramid.Tile, channel int) ([]byte, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.data, f.err
}

func TestStorePath(t *testing.T) {
	s := &Store{Root: "out", Format: "png"}
	tile := pyramid.NewTile(0, 4, 3, 9)
	assert.Equal(t, "out/4/3/9.png", s.Path(tile, 0))
	assert.Equal(t, "out/4/3/9_2.png", s.Path(tile, 2))
}

func TestCachedReadsThroughStore(t *testing.T) {
	next := &countingFetcher{data: []byte("abc")}
	c := &Cached{Store: &Store{Root: t.TempDir(), Format: "jpg"}, Next: next}
	tile := pyramid.NewTile(5, 1, 0, 1)

	for i := 0; i < 3; i++ {
		data, err := c.Fetch(context.Background(), tile, 0)
		require.NoError(t, err)
		assert.Equal(t, "abc", string(data))
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&next.calls))

	_, ok, err := c.Store.Get(tile, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCachedDoesNotStoreFailures(t *testing.T) {
	next := &countingFetcher{err: errors.New("offline")}
	c := &Cached{Store: &Store{Root: t.TempDir()}, Next: next}
	tile := pyramid.NewTile(5, 1, 0, 1)

	_, err := c.Fetch(context.Background(), tile, 0)
	assert.Error(t, err)
	_, ok, err := c.Store.Get(tile, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}
