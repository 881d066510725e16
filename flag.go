package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

var (
	hf         bool
	configPath string
	logLevel   string
	viewPath   string
)

func InitFlag() {
	flag.BoolVar(&hf, "h", false, "this help")
	flag.StringVar(&configPath, "c", "./conf/conf.toml", "set config `file`")
	flag.StringVar(&logLevel, "l", "info", "set log level (default: info)")
	flag.StringVar(&viewPath, "v", "", "geojson `file` of regions to show, replaces the configured views")
	flag.Usage = usage
	flag.Parse()

	if hf {
		flag.Usage()
		os.Exit(0)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-h] [-c filename] [-l logLevel] [-v filename]\n", filepath.Base(os.Args[0]))
	flag.PrintDefaults()
}
