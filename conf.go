package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var conf *Conf

// LayerConf 图层配置
type LayerConf struct {
	Name        string        `toml:"name"`
	URL         string        `toml:"url"`
	Width       int           `toml:"width"`
	Height      int           `toml:"height"`
	TileSize    int           `toml:"tileSize"`
	CacheLevels int           `toml:"cacheLevels"`
	Channels    int           `toml:"channels"`
	Format      string        `toml:"format"`
	Store       string        `toml:"store"`
	Timeout     time.Duration `toml:"timeout"`
	OffsetX     float64       `toml:"offsetX"`
	OffsetY     float64       `toml:"offsetY"`
	Scale       float64       `toml:"scale"`
}

// ViewConf 视图脚本中的一帧
type ViewConf struct {
	X      float64 `toml:"x"`
	Y      float64 `toml:"y"`
	Z      float64 `toml:"z"`
	A      float64 `toml:"a"`
	Bias   float64 `toml:"bias"`
	Border int     `toml:"border"`
}

type Conf struct {
	App struct {
		Version string `toml:"version"`
		Title   string `toml:"title"`
	} `toml:"app"`
	Output struct {
		LogDir         string `toml:"logDir"`
		OutputTerminal bool   `toml:"outputTerminal"`
	} `toml:"output"`
	Cache struct {
		Capacity        int64         `toml:"capacity"`
		MaxRequest      int           `toml:"maxRequest"`
		MaxRequestsRate float64       `toml:"maxRequestsRate"`
		Hysteresis      time.Duration `toml:"hysteresis"`
	} `toml:"cache"`
	Session struct {
		Width  float64       `toml:"width"`
		Height float64       `toml:"height"`
		Settle time.Duration `toml:"settle"`
		Poll   time.Duration `toml:"poll"`
		Bias   float64       `toml:"bias"`
		Border int           `toml:"border"`
	} `toml:"session"`
	Layers []LayerConf `toml:"layers"`
	Views  []ViewConf  `toml:"views"`
}

// InitConf 初始化配置
func InitConf(cfgFile string) {
	c, err := loadConf(cfgFile)
	if err != nil {
		// 日志尚未初始化
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	conf = c
}

func loadConf(cfgFile string) (*Conf, error) {
	if cfgFile == "" {
		cfgFile = "conf.toml"
	}
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		return nil, errors.Errorf("config file(%s) not exist", cfgFile)
	}
	v := viper.New()
	v.SetConfigType("toml")
	v.SetConfigFile(cfgFile)
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config file(%s)", v.ConfigFileUsed())
	}
	// 设置默认值
	v.SetDefault("app.version", "v 0.1.0")
	v.SetDefault("app.title", "Tile Stream")
	v.SetDefault("output.outputTerminal", true)
	v.SetDefault("cache.capacity", 256<<20)
	v.SetDefault("cache.maxRequest", 4)
	v.SetDefault("cache.maxRequestsRate", 0)
	v.SetDefault("session.width", 1920)
	v.SetDefault("session.height", 1080)
	v.SetDefault("session.settle", "30s")
	v.SetDefault("session.poll", "100ms")
	v.SetDefault("session.bias", 0.5)

	var c Conf
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if len(c.Layers) == 0 {
		return nil, errors.Errorf("config file(%s) declares no layers", cfgFile)
	}
	for i := range c.Layers {
		c.Layers[i].withDefaults(i)
	}
	return &c, nil
}
