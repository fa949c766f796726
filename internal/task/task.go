package task

import (
	"context"
	"time"
)

// ExpireFunc 到期回调函数类型
type ExpireFunc func(ctx context.Context, target string) error

// Task 延时到期任务
// 客户端用它承载输入静默到期、对端输入过期、发送超时等定时语义
// ID 在轮内唯一：重复添加同 ID 任务会替换旧任务（重新武装）
type Task struct {
	ID        string     // 任务唯一ID，例如 "send_timeout:<local_key>"
	Target    string     // 操作对象标识（会话ID、消息本地键等）
	Delay     int        // 延迟秒数 (1-60)
	Fn        ExpireFunc // 到期执行函数
	CreatedAt time.Time  // 创建时间
}

// NewTask 创建新任务
func NewTask(id, target string, delay int, fn ExpireFunc) *Task {
	return &Task{
		ID:        id,
		Target:    target,
		Delay:     delay,
		Fn:        fn,
		CreatedAt: time.Now(),
	}
}

// Execute 执行任务
func (t *Task) Execute(ctx context.Context) error {
	if t.Fn == nil {
		return nil
	}
	return t.Fn(ctx, t.Target)
}
