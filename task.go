package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
	pb "gopkg.in/cheggaaa/pb.v1"

	"tilestream/cache"
	"tilestream/layer"
	"tilestream/pyramid"
)

func InitTask() {
	start := time.Now()

	c, err := cache.New(cache.Config{
		Capacity:        conf.Cache.Capacity,
		MaxRequest:      conf.Cache.MaxRequest,
		MaxRequestsRate: conf.Cache.MaxRequestsRate,
		Hysteresis:      conf.Cache.Hysteresis,
		Logger:          log,
	})
	if err != nil {
		log.Fatal(err)
	}

	views, err := sessionViews()
	if err != nil {
		log.Fatal(err)
	}
	maps := make([]TileMap, 0, len(conf.Layers))
	for _, lc := range conf.Layers {
		maps = append(maps, TileMap{lc})
	}

	task, err := NewTask(conf.App.Title, maps, views, c, log)
	if err != nil {
		log.Fatal(err)
	}
	task.Settle = conf.Session.Settle
	task.Poll = conf.Session.Poll
	// 注册安全退出
	SafeExitInst.Register(task.AbortFun)

	if err := task.Run(); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("session failed")
	}

	secs := time.Since(start).Seconds()
	log.Printf("\n%.3fs finished...", secs)
}

// sessionViews -v 指定的区域优先于配置中的视图
func sessionViews() ([]pyramid.View, error) {
	vp := viewport()
	if viewPath != "" {
		regions, err := loadRegions(viewPath)
		if err != nil {
			return nil, errors.Wrapf(err, "loading views from %s", viewPath)
		}
		return regionViews(regions, vp, conf.Session.Bias, conf.Session.Border), nil
	}
	if len(conf.Views) == 0 {
		return nil, errors.New("no views configured")
	}
	return confViews(conf.Views, vp), nil
}

// Task 一次浏览会话: 多个图层共享一个缓存, 依次显示脚本中的视图
type Task struct {
	ID     string
	Name   string
	Cache  *cache.Cache
	Maps   []TileMap
	Layers []*layer.Layer
	Views  []pyramid.View
	// Settle 单个视图等待加载完成的最长时间
	Settle time.Duration
	// Poll 进度刷新间隔
	Poll time.Duration

	log    logrus.FieldLogger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewTask 创建会话并把每个图层注册到缓存
func NewTask(name string, maps []TileMap, views []pyramid.View, c *cache.Cache, log logrus.FieldLogger) (*Task, error) {
	if len(maps) == 0 {
		return nil, errors.New("session needs at least one layer")
	}
	id, err := shortid.Generate()
	if err != nil {
		return nil, errors.Wrap(err, "generating session id")
	}
	log = log.WithField("session", id)

	task := &Task{
		ID:     id,
		Name:   name,
		Cache:  c,
		Maps:   maps,
		Views:  views,
		Settle: 30 * time.Second,
		Poll:   100 * time.Millisecond,
		log:    log,
	}
	for i := range maps {
		l, err := maps[i].NewLayer(c, log)
		if err != nil {
			task.closeLayers()
			return nil, err
		}
		task.Layers = append(task.Layers, l)
	}
	task.ctx, task.cancel = context.WithCancel(context.Background())
	return task, nil
}

// 结束任务
func (task *Task) AbortFun() {
	task.cancel()
}

// Run 依次显示所有视图, 结束后释放图层和缓存
func (task *Task) Run() error {
	defer task.close()
	go task.Cache.Run(task.ctx)

	task.log.Infof("Task %s starting, %d layers, %d views", task.Name, len(task.Layers), len(task.Views))
	for i, v := range task.Views {
		if err := task.showView(i, v); err != nil {
			return err
		}
	}
	return nil
}

func (task *Task) close() {
	task.closeLayers()
	task.Cache.Close()
	if task.cancel != nil {
		task.cancel()
	}
}

func (task *Task) closeLayers() {
	for _, l := range task.Layers {
		l.Close()
	}
}

// layerView 视图加上图层自身的变换
func (task *Task) layerView(i int, v pyramid.View) pyramid.View {
	v.LayerTransform = task.Maps[i].LayerTransform()
	return v
}

func (task *Task) showView(i int, v pyramid.View) error {
	loaded := task.loaded()
	for j, l := range task.Layers {
		l.SetView(task.layerView(j, v))
	}

	pending := task.pending()
	bar := pb.New(pending).Prefix(fmt.Sprintf("View %d : ", i)).Postfix("\n")
	bar.SetRefreshRate(time.Second)
	bar.Start()

	settle := time.NewTimer(task.Settle)
	defer settle.Stop()
	ticker := time.NewTicker(task.Poll)
	defer ticker.Stop()

wait:
	for pending > 0 {
		select {
		case <-task.ctx.Done():
			bar.Finish()
			task.log.Infof("Task %s got canceled.", task.Name)
			return task.ctx.Err()
		case <-settle.C:
			task.log.WithField("pending", pending).Warnf("view %d did not settle within %s", i, task.Settle)
			break wait
		case <-ticker.C:
			bar.Set64(task.loaded() - loaded)
			pending = task.pending()
		}
	}
	bar.Set64(task.loaded() - loaded)
	bar.FinishPrint(fmt.Sprintf("Task %s View %d finished ~", task.ID, i))

	task.report(i, v)
	return nil
}

// report 记录每个图层可绘制的瓦片和缓存占用
func (task *Task) report(i int, v pyramid.View) {
	for j, l := range task.Layers {
		render := l.Available(task.layerView(j, v))
		var complete int
		for _, t := range render {
			if t.Complete {
				complete++
			}
		}
		task.log.WithFields(logrus.Fields{
			"layer":    l.Name(),
			"drawn":    len(render),
			"complete": complete,
			"failed":   l.Failed(),
		}).Infof("view %d rendered", i)
	}
	stats := task.Cache.Stats()
	task.log.WithFields(logrus.Fields{
		"cache":    task.Cache.ID(),
		"used":     stats.Used,
		"capacity": stats.Capacity,
		"inflight": stats.InFlight,
	}).Infof("cache %.1f%% used", stats.UsedPercentage)
}

func (task *Task) loaded() int64 {
	var n int64
	for _, l := range task.Layers {
		n += l.Loaded()
	}
	return n
}

func (task *Task) pending() int {
	var n int
	for _, l := range task.Layers {
		n += l.Pending()
	}
	return n
}
