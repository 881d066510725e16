package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var SafeExitInst *SafeExit

func InitSafeExit() {
	SafeExitInst = new(SafeExit)
	go SafeExitInst.ListenSignal()
}

// SafeExit 收到第一个信号时依次执行注册的停止函数, 第二个信号直接退出
type SafeExit struct {
	funcs    []func()
	mu       sync.Mutex
	stopping bool
}

func (s *SafeExit) Register(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.funcs = append(s.funcs, f)
}

// stop 逆序执行, 后注册的先停止. 返回 false 表示已经在停止中
func (s *SafeExit) stop() bool {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return false
	}
	s.stopping = true
	funcs := s.funcs
	s.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		funcs[i]()
	}
	return true
}

func (s *SafeExit) ListenSignal() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	for sig := range sigs {
		fmt.Fprintf(os.Stderr, "received signal %s, stopping session\n", sig)
		if !s.stop() {
			os.Exit(1)
		}
	}
}
