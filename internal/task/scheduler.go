package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Scheduler 到期任务调度器
// 时间轮推进 + 工作池执行，客户端所有秒级定时语义共用一个实例
type Scheduler struct {
	wheel      *TimeWheel  // 时间轮
	workerPool *WorkerPool // 工作协程池
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *slog.Logger
	running    bool
	runningMu  sync.RWMutex
}

// NewScheduler 创建任务调度器
func NewScheduler(workerCount int) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		wheel:      NewTimeWheel(),
		workerPool: NewWorkerPool(workerCount),
		ctx:        ctx,
		cancel:     cancel,
		logger:     slog.Default().With("component", "Scheduler"),
		running:    false,
	}
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	s.runningMu.Lock()
	if s.running {
		s.runningMu.Unlock()
		return fmt.Errorf("调度器已经在运行中")
	}
	s.running = true
	s.runningMu.Unlock()

	// 启动工作协程池
	s.workerPool.Start()

	// 启动时钟协程
	s.wg.Add(1)
	go s.tickLoop()

	s.logger.Debug("任务调度器已启动")

	return nil
}

// tickLoop 时钟循环协程
func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := s.wheel.GetTicker()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-ticker.C:
			s.onTick()
		}
	}
}

// onTick 时钟触发处理
func (s *Scheduler) onTick() {
	// 推进时间轮,获取当前槽位的所有任务
	tasks := s.wheel.Tick()

	if len(tasks) == 0 {
		return
	}

	// 批量提交任务到工作池
	s.workerPool.SubmitBatch(tasks)
}

// Stop 停止调度器
func (s *Scheduler) Stop() {
	s.runningMu.Lock()
	if !s.running {
		s.runningMu.Unlock()
		return
	}
	s.running = false
	s.runningMu.Unlock()

	// 发送取消信号
	s.cancel()

	// 等待时钟协程退出
	s.wg.Wait()

	// 停止时间轮
	s.wheel.Stop()

	// 停止工作协程池
	s.workerPool.Stop()

	s.logger.Debug("任务调度器已停止")
}

// Schedule 添加或重新武装任务
// 同 ID 任务已存在时替换，到期时间从现在重新计算
func (s *Scheduler) Schedule(t *Task) error {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()

	if !s.running {
		return fmt.Errorf("调度器未运行")
	}

	if t == nil {
		return fmt.Errorf("任务不能为空")
	}

	if t.ID == "" {
		return fmt.Errorf("任务ID不能为空")
	}

	return s.wheel.AddTask(t)
}

// Cancel 取消任务，返回任务是否存在
func (s *Scheduler) Cancel(taskID string) bool {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()

	if !s.running || taskID == "" {
		return false
	}

	return s.wheel.RemoveTask(taskID)
}

// IsRunning 检查调度器是否运行中
func (s *Scheduler) IsRunning() bool {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()

	return s.running
}

// PendingCount 当前等待到期的任务总数
func (s *Scheduler) PendingCount() int {
	return s.wheel.GetTotalTaskCount()
}
