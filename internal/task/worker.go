package task

import (
	"context"
	"log/slog"
	"sync"
)

// WorkerPool 工作协程池
// 到期任务统一经由池执行，避免回调阻塞时钟协程
type WorkerPool struct {
	workerCount int        // 工作协程数量
	taskChan    chan *Task // 任务通道
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	logger      *slog.Logger
}

// NewWorkerPool 创建工作协程池
func NewWorkerPool(workerCount int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 4 // 客户端默认4个工作协程
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workerCount: workerCount,
		taskChan:    make(chan *Task, workerCount*2),
		ctx:         ctx,
		cancel:      cancel,
		logger:      slog.Default().With("component", "TaskWorkerPool"),
	}
}

// Start 启动工作协程池
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	wp.logger.Debug("工作协程池已启动", "workerCount", wp.workerCount)
}

// worker 工作协程
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			return

		case t := <-wp.taskChan:
			if t == nil {
				continue
			}

			wp.executeTask(id, t)
		}
	}
}

// executeTask 执行任务
func (wp *WorkerPool) executeTask(workerID int, t *Task) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error("任务执行 panic",
				"workerID", workerID,
				"taskID", t.ID,
				"target", t.Target,
				"panic", r)
		}
	}()

	if err := t.Execute(wp.ctx); err != nil {
		wp.logger.Warn("任务执行失败",
			"taskID", t.ID,
			"target", t.Target,
			"error", err)
	}
}

// Submit 提交任务
func (wp *WorkerPool) Submit(t *Task) {
	select {
	case wp.taskChan <- t:
	case <-wp.ctx.Done():
		wp.logger.Warn("工作池已关闭,任务提交失败", "taskID", t.ID)
	}
}

// SubmitBatch 批量提交任务
func (wp *WorkerPool) SubmitBatch(tasks []*Task) {
	for _, t := range tasks {
		wp.Submit(t)
	}
}

// Stop 停止工作协程池
func (wp *WorkerPool) Stop() {
	wp.cancel()
	wp.wg.Wait()
	close(wp.taskChan)
}
