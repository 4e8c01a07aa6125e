package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Token 标识一个已注册的定时任务，持有者可用它取消任务。
// 实体对象只保存 Token，不直接持有运行期的计时器。
type Token string

type job struct {
	name   string
	cancel context.CancelFunc
}

// Service 统一管理周期任务与一次性延时任务。
// 同一个 Token 的回调串行执行，互不重叠；不同任务彼此并行。
type Service struct {
	logger *zap.Logger

	mu      sync.Mutex
	jobs    map[Token]*job
	stopped bool
	wg      sync.WaitGroup
}

// New 创建调度服务。
func New(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		logger: logger,
		jobs:   make(map[Token]*job),
	}
}

// Every 注册一个周期任务：每隔 interval 执行一次 fn，直到被取消。
// 回调在任务自己的 goroutine 内同步执行，单个任务不会自我重叠。
func (s *Service) Every(name string, interval time.Duration, fn func(ctx context.Context)) Token {
	return s.register(name, func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}, false)
}

// After 注册一次性延时任务：delay 之后执行一次 fn，除非先被取消。
func (s *Service) After(name string, delay time.Duration, fn func(ctx context.Context)) Token {
	return s.register(name, func(ctx context.Context) {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			fn(ctx)
		}
	}, true)
}

func (s *Service) register(name string, run func(ctx context.Context), once bool) Token {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.logger.Warn("调度器已停止，任务被忽略", zap.String("job", name))
		return ""
	}

	token := Token(uuid.NewString())
	ctx, cancel := context.WithCancel(context.Background())
	s.jobs[token] = &job{name: name, cancel: cancel}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer cancel()
		run(ctx)
		if once {
			s.remove(token)
		}
	}()

	s.logger.Debug("任务已注册", zap.String("job", name), zap.String("token", string(token)))
	return token
}

// Cancel 取消指定任务，重复取消或取消未知 Token 均为空操作。
func (s *Service) Cancel(token Token) {
	if token == "" {
		return
	}

	s.mu.Lock()
	j, ok := s.jobs[token]
	if ok {
		delete(s.jobs, token)
	}
	s.mu.Unlock()

	if ok {
		j.cancel()
		s.logger.Debug("任务已取消", zap.String("job", j.name))
	}
}

func (s *Service) remove(token Token) {
	s.mu.Lock()
	delete(s.jobs, token)
	s.mu.Unlock()
}

// Stop 取消全部任务并等待正在执行的回调结束。
func (s *Service) Stop() {
	s.mu.Lock()
	s.stopped = true
	jobs := make([]*job, 0, len(s.jobs))
	for token, j := range s.jobs {
		jobs = append(jobs, j)
		delete(s.jobs, token)
	}
	s.mu.Unlock()

	for _, j := range jobs {
		j.cancel()
	}
	s.wg.Wait()
}
