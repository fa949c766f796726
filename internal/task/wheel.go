package task

import (
	"sync"
	"time"
)

const (
	// SlotCount 时间轮槽位数量 (60秒)
	SlotCount = 60
)

// TimeWheel 时间轮
// 额外维护 taskID -> 槽位索引的定位表，保证同 ID 任务重复添加时
// 旧任务被精确移除（输入静默窗口每次按键都会重新武装）
type TimeWheel struct {
	slots       [SlotCount]*Slot // 60个槽位
	currentSlot int              // 当前槽位索引
	locations   map[string]int   // taskID -> 槽位索引
	mu          sync.RWMutex     // 保护 currentSlot 和 locations
	ticker      *time.Ticker     // 1秒定时器
}

// NewTimeWheel 创建时间轮
func NewTimeWheel() *TimeWheel {
	tw := &TimeWheel{
		currentSlot: 0,
		locations:   make(map[string]int),
		ticker:      time.NewTicker(time.Second),
	}

	// 初始化所有槽位
	for i := 0; i < SlotCount; i++ {
		tw.slots[i] = NewSlot()
	}

	return tw
}

// AddTask 添加任务到时间轮
// 同 ID 任务已存在时先移除旧任务，相当于重新武装
func (tw *TimeWheel) AddTask(task *Task) error {
	if task.Delay < 1 || task.Delay > SlotCount-1 {
		task.Delay = 1 // 默认1秒
	}

	tw.mu.Lock()
	if oldSlot, exists := tw.locations[task.ID]; exists {
		tw.slots[oldSlot].RemoveTask(task.ID)
	}
	targetSlot := (tw.currentSlot + task.Delay) % SlotCount
	tw.locations[task.ID] = targetSlot
	tw.mu.Unlock()

	// 添加到槽位
	tw.slots[targetSlot].AddTask(task)

	return nil
}

// RemoveTask 从时间轮删除任务
func (tw *TimeWheel) RemoveTask(taskID string) bool {
	tw.mu.Lock()
	slot, exists := tw.locations[taskID]
	if exists {
		delete(tw.locations, taskID)
	}
	tw.mu.Unlock()

	if !exists {
		return false
	}

	return tw.slots[slot].RemoveTask(taskID)
}

// Tick 推进时间轮 (由调度器调用)
func (tw *TimeWheel) Tick() []*Task {
	// 推进到下一个槽位
	tw.mu.Lock()
	tw.currentSlot = (tw.currentSlot + 1) % SlotCount
	currentSlot := tw.currentSlot
	tw.mu.Unlock()

	// 获取当前槽位的所有任务并清空
	tasks := tw.slots[currentSlot].GetAndClear()

	if len(tasks) > 0 {
		tw.mu.Lock()
		for _, t := range tasks {
			delete(tw.locations, t.ID)
		}
		tw.mu.Unlock()
	}

	return tasks
}

// GetCurrentSlot 获取当前槽位索引
func (tw *TimeWheel) GetCurrentSlot() int {
	tw.mu.RLock()
	defer tw.mu.RUnlock()

	return tw.currentSlot
}

// Stop 停止时间轮
func (tw *TimeWheel) Stop() {
	tw.ticker.Stop()
}

// GetTicker 获取定时器
func (tw *TimeWheel) GetTicker() *time.Ticker {
	return tw.ticker
}

// GetTotalTaskCount 获取所有槽位的任务总数
func (tw *TimeWheel) GetTotalTaskCount() int {
	total := 0
	for i := 0; i < SlotCount; i++ {
		total += tw.slots[i].Count()
	}
	return total
}
