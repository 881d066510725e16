package main

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilestream/cache"
	"tilestream/fetch"
	"tilestream/pyramid"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(ioutil.Discard)
	return l
}

func tileServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("tile!"))
	}))
	t.Cleanup(ts.Close)
	return ts, &hits
}

// 1000x600 with 256 pixel tiles: 17 tiles over 3 levels.
func testMap(url, store string) TileMap {
	lc := LayerConf{Name: "rgb", URL: url + "/{z}/{x}/{y}", Width: 1000, Height: 600, CacheLevels: 2, Store: store}
	lc.withDefaults(0)
	return TileMap{lc}
}

func fullView() pyramid.View {
	return pyramid.View{
		Viewport: pyramid.Viewport{W: 1000, H: 600},
		Bias:     1,
	}
}

func newTestTask(t *testing.T, maps ...TileMap) *Task {
	t.Helper()
	c, err := cache.New(cache.Config{Capacity: 1 << 20, MaxRequest: 4, Logger: quietLogger()})
	require.NoError(t, err)
	task, err := NewTask("test", maps, []pyramid.View{fullView()}, c, quietLogger())
	require.NoError(t, err)
	task.Poll = time.Millisecond
	task.Settle = 5 * time.Second
	return task
}

func TestTaskLoadsEveryView(t *testing.T) {
	ts, hits := tileServer(t)
	task := newTestTask(t, testMap(ts.URL, ""))

	require.NoError(t, task.Run())
	assert.Equal(t, int64(17), task.loaded())
	assert.Equal(t, int32(17), atomic.LoadInt32(hits))

	stats := task.Cache.Stats()
	assert.Equal(t, 0, stats.Layers, "layers leave the cache when the session ends")
	assert.Equal(t, int64(0), stats.Used)
}

func TestTaskSharesOneCache(t *testing.T) {
	ts, hits := tileServer(t)
	second := testMap(ts.URL, "")
	second.Name = "normals"
	second.Channels = 2
	task := newTestTask(t, testMap(ts.URL, ""), second)

	require.NoError(t, task.Run())
	assert.Equal(t, int64(34), task.loaded())
	assert.Equal(t, int32(17+34), atomic.LoadInt32(hits))
}

func TestTaskReadsThroughStore(t *testing.T) {
	ts, hits := tileServer(t)
	dir := t.TempDir()

	require.NoError(t, newTestTask(t, testMap(ts.URL, dir)).Run())
	require.Equal(t, int32(17), atomic.LoadInt32(hits))

	// A later session finds every tile on disk.
	task := newTestTask(t, testMap(ts.URL, dir))
	require.NoError(t, task.Run())
	assert.Equal(t, int64(17), task.loaded())
	assert.Equal(t, int32(17), atomic.LoadInt32(hits))

	data, ok, err := (&fetch.Store{Root: dir, Format: PNG}).Get(pyramid.NewTile(0, 0, 0, 0), 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tile!", string(data))
	assert.FileExists(t, filepath.Join(dir, "2", "3", "2.png"))
}

func TestTaskAbort(t *testing.T) {
	block := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(block)

	task := newTestTask(t, testMap(ts.URL, ""))
	task.AbortFun()
	err := task.Run()
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewTaskRejectsBadLayer(t *testing.T) {
	c, err := cache.New(cache.Config{Capacity: 1, MaxRequest: 1, Logger: quietLogger()})
	require.NoError(t, err)

	_, err = NewTask("empty", nil, nil, c, quietLogger())
	assert.Error(t, err)

	bad := testMap("", "")
	bad.URL = ""
	_, err = NewTask("bad", []TileMap{testMap("http://localhost", ""), bad}, nil, c, quietLogger())
	assert.Error(t, err)
	assert.Equal(t, 0, c.Stats().Layers, "layers built before the failure are released")
}
