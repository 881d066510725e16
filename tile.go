package main

import (
	"fmt"
	"time"
)

// TileSize 默认瓦片大小
const TileSize = 256

// FetchTimeout 默认单个瓦片请求超时
const FetchTimeout = 30 * time.Second

// Constants representing TileFormat types
const (
	PNG  = "png"
	JPG  = "jpg"
	PBF  = "pbf"
	WEBP = "webp"
)

func validFormat(format string) bool {
	switch format {
	case PNG, JPG, PBF, WEBP:
		return true
	}
	return false
}

// withDefaults 补全图层配置
func (lc *LayerConf) withDefaults(i int) {
	if lc.Name == "" {
		lc.Name = fmt.Sprintf("layer%d", i)
	}
	if lc.TileSize <= 0 {
		lc.TileSize = TileSize
	}
	if lc.Channels <= 0 {
		lc.Channels = 1
	}
	if !validFormat(lc.Format) {
		lc.Format = PNG
	}
	if lc.Timeout <= 0 {
		lc.Timeout = FetchTimeout
	}
	if lc.Scale == 0 {
		lc.Scale = 1
	}
}
