package main

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/pkg/errors"
	"github.com/shiena/ansicolor"
	"github.com/sirupsen/logrus"
)

var log *logrus.Logger

// InitLog 初始化日志
func InitLog() {
	l, err := newLogger(conf.Output.LogDir, conf.Output.OutputTerminal, logLevel)
	if err != nil {
		panic(err)
	}
	log = l
}

func newLogger(logDir string, terminal bool, level string) (*logrus.Logger, error) {
	l := logrus.New()
	l.SetFormatter(&nested.Formatter{
		ShowFullLevel:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
		FieldsOrder:     []string{"session", "cache", "layer", "tile"},
	})
	logIO := make([]io.Writer, 0)
	if logDir != "" {
		if err := os.MkdirAll(logDir, os.ModePerm); err != nil {
			return nil, errors.Wrap(err, "creating log directory")
		}
		filename := filepath.Join(logDir, time.Now().Format("2006-01-02.log"))
		file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
		if err != nil {
			return nil, errors.Wrap(err, "opening log file")
		}
		logIO = append(logIO, file)
	}
	if terminal {
		logIO = append(logIO, os.Stdout)
	}
	if len(logIO) == 0 {
		logIO = append(logIO, ioutil.Discard)
	}

	// 融合日志输出
	l.SetOutput(ansicolor.NewAnsiColorWriter(io.MultiWriter(logIO...)))

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l, nil
}
