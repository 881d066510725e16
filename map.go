package main

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"tilestream/cache"
	"tilestream/fetch"
	"tilestream/layer"
	"tilestream/pyramid"
)

// TileMap 图层: 金字塔 + 瓦片地址模板
type TileMap struct {
	LayerConf
}

func (m *TileMap) Pyramid() (*pyramid.Pyramid, error) {
	p, err := pyramid.New(pyramid.Config{
		TileSize:    m.TileSize,
		Width:       m.Width,
		Height:      m.Height,
		CacheLevels: m.CacheLevels,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "layer %s", m.Name)
	}
	return p, nil
}

// Fetcher 配置了 store 时先读本地目录
func (m *TileMap) Fetcher(log logrus.FieldLogger) (fetch.Fetcher, error) {
	if m.URL == "" {
		return nil, errors.Errorf("layer %s has no url", m.Name)
	}
	h := fetch.NewHTTP(m.URL, m.Timeout, log)
	if m.Store == "" {
		return h, nil
	}
	return &fetch.Cached{
		Store:  &fetch.Store{Root: m.Store, Format: m.Format},
		Next:   h,
		Logger: log,
	}, nil
}

// LayerTransform 图层在场景中的位置
func (m *TileMap) LayerTransform() pyramid.Transform {
	return pyramid.Transform{X: m.OffsetX, Y: m.OffsetY, Z: m.Scale}
}

// NewLayer 创建图层并注册到缓存
func (m *TileMap) NewLayer(c *cache.Cache, log logrus.FieldLogger) (*layer.Layer, error) {
	p, err := m.Pyramid()
	if err != nil {
		return nil, err
	}
	f, err := m.Fetcher(log.WithField("layer", m.Name))
	if err != nil {
		return nil, err
	}
	return layer.New(p, c, f, layer.Config{
		Name:     m.Name,
		Channels: m.Channels,
		Logger:   log,
	})
}
