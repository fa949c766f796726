package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestNewTask 测试创建任务
func TestNewTask(t *testing.T) {
	fn := func(ctx context.Context, target string) error {
		return nil
	}

	tk := NewTask("typing_stop:conv-1", "conv-1", 2, fn)

	if tk.ID != "typing_stop:conv-1" {
		t.Errorf("期望 ID = typing_stop:conv-1, 实际 = %s", tk.ID)
	}

	if tk.Target != "conv-1" {
		t.Errorf("期望 Target = conv-1, 实际 = %s", tk.Target)
	}

	if tk.Delay != 2 {
		t.Errorf("期望 Delay = 2, 实际 = %d", tk.Delay)
	}
}

// TestSlotAddAndRemove 测试槽位添加和删除
func TestSlotAddAndRemove(t *testing.T) {
	slot := NewSlot()

	task1 := NewTask("task-1", "conv-1", 5, nil)
	task2 := NewTask("task-2", "conv-2", 5, nil)

	// 添加任务
	slot.AddTask(task1)
	slot.AddTask(task2)

	if slot.Count() != 2 {
		t.Errorf("期望任务数 = 2, 实际 = %d", slot.Count())
	}

	// 删除任务
	removed := slot.RemoveTask("task-1")
	if !removed {
		t.Error("期望删除成功")
	}

	if slot.Count() != 1 {
		t.Errorf("期望任务数 = 1, 实际 = %d", slot.Count())
	}

	// 删除不存在的任务
	removed = slot.RemoveTask("task-not-exist")
	if removed {
		t.Error("期望删除失败")
	}
}

// TestTimeWheelAddTask 测试时间轮添加任务
func TestTimeWheelAddTask(t *testing.T) {
	wheel := NewTimeWheel()
	defer wheel.Stop()

	tk := NewTask("task-1", "conv-1", 5, nil)
	err := wheel.AddTask(tk)

	if err != nil {
		t.Errorf("添加任务失败: %v", err)
	}

	// 检查总任务数
	if wheel.GetTotalTaskCount() != 1 {
		t.Errorf("期望总任务数 = 1, 实际 = %d", wheel.GetTotalTaskCount())
	}
}

// TestTimeWheelRearm 测试同 ID 任务重复添加只保留一个
func TestTimeWheelRearm(t *testing.T) {
	wheel := NewTimeWheel()
	defer wheel.Stop()

	// 模拟每次按键重新武装 stop 任务
	wheel.AddTask(NewTask("typing_stop:conv-1", "conv-1", 2, nil))
	wheel.Tick() // 推进1秒
	wheel.AddTask(NewTask("typing_stop:conv-1", "conv-1", 2, nil))

	if wheel.GetTotalTaskCount() != 1 {
		t.Errorf("期望重新武装后任务数 = 1, 实际 = %d", wheel.GetTotalTaskCount())
	}

	// 按旧的到期时间推进，任务不应触发
	tasks := wheel.Tick()
	if len(tasks) != 0 {
		t.Errorf("期望旧槽位无任务, 实际 = %d", len(tasks))
	}

	// 按新的到期时间推进，任务触发
	tasks = wheel.Tick()
	if len(tasks) != 1 {
		t.Errorf("期望新槽位有1个任务, 实际 = %d", len(tasks))
	}
}

// TestTimeWheelRemove 测试精确删除（跨 Tick 后仍可删除）
func TestTimeWheelRemove(t *testing.T) {
	wheel := NewTimeWheel()
	defer wheel.Stop()

	wheel.AddTask(NewTask("send_timeout:key-1", "key-1", 5, nil))
	wheel.Tick()
	wheel.Tick()

	// 推进两次后仍能按 ID 删除
	if !wheel.RemoveTask("send_timeout:key-1") {
		t.Error("期望删除成功")
	}

	if wheel.GetTotalTaskCount() != 0 {
		t.Errorf("期望总任务数 = 0, 实际 = %d", wheel.GetTotalTaskCount())
	}
}

// TestTimeWheelTick 测试时间轮推进
func TestTimeWheelTick(t *testing.T) {
	wheel := NewTimeWheel()
	defer wheel.Stop()

	// 添加延迟1秒的任务
	tk := NewTask("task-1", "conv-1", 1, nil)
	wheel.AddTask(tk)

	// 推进1次
	tasks := wheel.Tick()

	// 第一次推进应该获取到任务
	if len(tasks) != 1 {
		t.Errorf("期望获取1个任务, 实际 = %d", len(tasks))
	}

	if tasks[0].ID != "task-1" {
		t.Errorf("期望任务ID = task-1, 实际 = %s", tasks[0].ID)
	}
}

// TestSchedulerStartStop 测试调度器启动和停止
func TestSchedulerStartStop(t *testing.T) {
	scheduler := NewScheduler(4)

	// 启动
	err := scheduler.Start()
	if err != nil {
		t.Fatalf("启动调度器失败: %v", err)
	}

	if !scheduler.IsRunning() {
		t.Error("期望调度器运行中")
	}

	// 重复启动应该失败
	err = scheduler.Start()
	if err == nil {
		t.Error("期望重复启动失败")
	}

	// 停止
	scheduler.Stop()

	if scheduler.IsRunning() {
		t.Error("期望调度器已停止")
	}
}

// TestSchedulerScheduleCancel 测试添加和取消任务
func TestSchedulerScheduleCancel(t *testing.T) {
	scheduler := NewScheduler(4)
	scheduler.Start()
	defer scheduler.Stop()

	fn := func(ctx context.Context, target string) error {
		return nil
	}

	tk := NewTask("task-1", "conv-1", 5, fn)

	// 添加任务
	err := scheduler.Schedule(tk)
	if err != nil {
		t.Errorf("添加任务失败: %v", err)
	}

	// 取消任务
	if !scheduler.Cancel("task-1") {
		t.Error("期望取消成功")
	}

	// 取消不存在的任务
	if scheduler.Cancel("task-not-exist") {
		t.Error("期望取消失败")
	}
}

// TestSchedulerTaskExecution 测试任务执行
func TestSchedulerTaskExecution(t *testing.T) {
	scheduler := NewScheduler(4)
	scheduler.Start()
	defer scheduler.Stop()

	var executed atomic.Int32
	var mu sync.Mutex
	var results []string

	fn := func(ctx context.Context, target string) error {
		mu.Lock()
		results = append(results, target)
		mu.Unlock()
		executed.Add(1)
		return nil
	}

	// 添加多个任务,延迟1秒
	for i := 1; i <= 5; i++ {
		tk := NewTask(fmt.Sprintf("task-%d", i), fmt.Sprintf("conv-%d", i), 1, fn)
		scheduler.Schedule(tk)
	}

	// 等待任务执行 (2秒足够)
	time.Sleep(2 * time.Second)

	if executed.Load() != 5 {
		t.Errorf("期望执行5个任务, 实际 = %d", executed.Load())
	}

	mu.Lock()
	got := len(results)
	mu.Unlock()
	if got != 5 {
		t.Errorf("期望5个结果, 实际 = %d", got)
	}
}

// TestSchedulerConcurrent 测试并发安全
func TestSchedulerConcurrent(t *testing.T) {
	scheduler := NewScheduler(8)
	scheduler.Start()
	defer scheduler.Stop()

	var executed atomic.Int32

	fn := func(ctx context.Context, target string) error {
		executed.Add(1)
		return nil
	}

	// 并发添加任务
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			tk := NewTask(fmt.Sprintf("task-%d", id), "conv", 1, fn)
			scheduler.Schedule(tk)
		}(i)
	}

	wg.Wait()

	// 等待任务执行
	time.Sleep(2 * time.Second)

	// 检查任务是否都执行了
	if executed.Load() != 100 {
		t.Errorf("期望执行100个任务, 实际 = %d", executed.Load())
	}
}

// TestWorkerPoolPanicRecover 测试 panic 恢复
func TestWorkerPoolPanicRecover(t *testing.T) {
	scheduler := NewScheduler(4)
	scheduler.Start()
	defer scheduler.Stop()

	var executed atomic.Int32

	panicFn := func(ctx context.Context, target string) error {
		executed.Add(1)
		panic("测试 panic")
	}

	normalFn := func(ctx context.Context, target string) error {
		executed.Add(1)
		return nil
	}

	// 添加会 panic 的任务
	scheduler.Schedule(NewTask("task-panic", "conv-1", 1, panicFn))

	// 添加正常任务
	scheduler.Schedule(NewTask("task-normal", "conv-2", 1, normalFn))

	// 等待执行
	time.Sleep(2 * time.Second)

	// 两个任务都应该被执行 (panic 被恢复)
	if executed.Load() != 2 {
		t.Errorf("期望执行2个任务, 实际 = %d", executed.Load())
	}
}

// BenchmarkTimeWheelTick 性能测试: 时间轮推进
func BenchmarkTimeWheelTick(b *testing.B) {
	wheel := NewTimeWheel()
	defer wheel.Stop()

	// 添加一些任务
	for i := 0; i < 100; i++ {
		wheel.AddTask(NewTask(fmt.Sprintf("task-%d", i), "conv", 1, nil))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wheel.Tick()
	}
}
