package main

import (
	"bytes"
	"flag"
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilestream/pyramid"
)

const testConf = `
[cache]
capacity = 1000
maxRequest = 2
maxRequestsRate = 5.0
hysteresis = "2ms"

[session]
width = 800
height = 600

[[layers]]
url = "http://localhost/{z}/{x}/{y}.jpg"
width = 4000
height = 3000
format = "jpg"
timeout = "5s"

[[layers]]
name = "normals"
url = "http://localhost/n/{z}/{x}/{y}_{channel}.png"
width = 4000
height = 3000
tileSize = 512
channels = 2
scale = 2.0

[[views]]
z = 0.25
bias = 0.5

[[views]]
x = -100.0
z = 1.0
a = 90.0
border = 2
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConf(t *testing.T) {
	c, err := loadConf(writeFile(t, "conf.toml", testConf))
	require.NoError(t, err)

	assert.Equal(t, int64(1000), c.Cache.Capacity)
	assert.Equal(t, 2, c.Cache.MaxRequest)
	assert.Equal(t, 5.0, c.Cache.MaxRequestsRate)
	assert.Equal(t, 2*time.Millisecond, c.Cache.Hysteresis)

	assert.Equal(t, 800.0, c.Session.Width)
	assert.Equal(t, 30*time.Second, c.Session.Settle)
	assert.Equal(t, 100*time.Millisecond, c.Session.Poll)

	require.Len(t, c.Layers, 2)
	first := c.Layers[0]
	assert.Equal(t, "layer0", first.Name)
	assert.Equal(t, TileSize, first.TileSize)
	assert.Equal(t, 1, first.Channels)
	assert.Equal(t, JPG, first.Format)
	assert.Equal(t, 5*time.Second, first.Timeout)
	assert.Equal(t, 1.0, first.Scale)

	second := c.Layers[1]
	assert.Equal(t, "normals", second.Name)
	assert.Equal(t, 512, second.TileSize)
	assert.Equal(t, 2, second.Channels)
	assert.Equal(t, PNG, second.Format)
	assert.Equal(t, FetchTimeout, second.Timeout)

	require.Len(t, c.Views, 2)
	views := confViews(c.Views, pyramid.Viewport{W: 800, H: 600})
	assert.Equal(t, pyramid.Transform{Z: 0.25}, views[0].Transform)
	assert.Equal(t, 0.5, views[0].Bias)
	assert.Equal(t, pyramid.Transform{X: -100, Z: 1, A: 90}, views[1].Transform)
	assert.Equal(t, 2, views[1].Border)
}

func TestLoadConfErrors(t *testing.T) {
	_, err := loadConf(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = loadConf(writeFile(t, "empty.toml", "[cache]\ncapacity = 10\n"))
	assert.Error(t, err, "a session without layers is refused")
}

func TestTileMapLayerTransform(t *testing.T) {
	c, err := loadConf(writeFile(t, "conf.toml", testConf))
	require.NoError(t, err)

	m := TileMap{c.Layers[1]}
	assert.Equal(t, pyramid.Transform{Z: 2}, m.LayerTransform())
	p, err := m.Pyramid()
	require.NoError(t, err)
	assert.Equal(t, 512, p.TileSize())
}

const testRegions = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {}, "geometry": {"type": "Polygon", "coordinates": [[[0, 0], [400, 0], [400, 300], [0, 300], [0, 0]]]}},
    {"type": "Feature", "properties": {}, "geometry": {"type": "Point", "coordinates": [10, 10]}},
    {"type": "Feature", "properties": {}, "geometry": {"type": "LineString", "coordinates": [[1000, 1000], [3000, 2000]]}}
  ]
}`

func TestRegionViews(t *testing.T) {
	regions, err := loadRegions(writeFile(t, "views.geojson", testRegions))
	require.NoError(t, err)
	require.Len(t, regions, 3)
	assert.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{400, 300}}, regions[0])

	vp := pyramid.Viewport{W: 800, H: 600}
	views := regionViews(regions, vp, 0.5, 1)
	require.Len(t, views, 3)

	assert.Equal(t, pyramid.Transform{Z: 2}, views[0].Transform)
	assert.Equal(t, 1, views[0].Border)
	// A point has no extent and is shown as is.
	assert.Equal(t, pyramid.Identity(), views[1].Transform)
	// 2000x1000 fits by width.
	assert.InDelta(t, 0.4, views[2].Transform.Z, 1e-9)
	center := views[2].Transform.Apply(orb.Point{2000, 1500})
	assert.InDelta(t, 400, center[0], 1e-9)
	assert.InDelta(t, 300, center[1], 1e-9)
}

func TestLoadRegionsErrors(t *testing.T) {
	_, err := loadRegions(filepath.Join(t.TempDir(), "missing.geojson"))
	assert.Error(t, err)
	_, err = loadRegions(writeFile(t, "bad.geojson", "{not json"))
	assert.Error(t, err)
}

func TestUsageListsFlags(t *testing.T) {
	var buf bytes.Buffer
	flag.CommandLine.SetOutput(&buf)
	defer flag.CommandLine.SetOutput(nil)

	usage()
	out := buf.String()
	assert.Contains(t, out, "Usage: ")
	assert.Contains(t, out, "[-v filename]")
}
