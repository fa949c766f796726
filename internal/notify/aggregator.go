package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sudooom.im.client/internal/model"
)

// Store 通知快照与变更的 REST 来源
type Store interface {
	UnreadCount(ctx context.Context) (int, error)
	Notifications(ctx context.Context, limit int, onlyUnread bool) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id string) error
}

// Aggregator 通知聚合器
// 维护未读数和最近通知列表。推送信号走"失效并回源"：
// 不做增量合并，收到信号后重新拉取服务端权威状态。
// 变更操作统一为：本地乐观应用 -> REST 确认 -> 失败显式回滚，
// 且下一次快照永远是最终依据。
type Aggregator struct {
	store Store

	mu        sync.Mutex
	unread    int
	list      []model.Notification
	panelOpen bool
	limit     int

	onChange func()

	refetchTimeout time.Duration
	logger         *slog.Logger
}

// New 创建通知聚合器
func New(store Store, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		store:          store,
		limit:          20,
		refetchTimeout: 5 * time.Second,
		logger:         logger.With("component", "Notify"),
	}
}

// OnChange 注册状态变化回调
func (a *Aggregator) OnChange(fn func()) {
	a.mu.Lock()
	a.onChange = fn
	a.mu.Unlock()
}

// LoadUnreadCount 拉取未读数快照
func (a *Aggregator) LoadUnreadCount(ctx context.Context) (int, error) {
	count, err := a.store.UnreadCount(ctx)
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	a.unread = count
	fn := a.onChange
	a.mu.Unlock()

	if fn != nil {
		fn()
	}
	return count, nil
}

// LoadRecent 拉取最近通知列表快照
func (a *Aggregator) LoadRecent(ctx context.Context, limit int, onlyUnread bool) ([]model.Notification, error) {
	if limit <= 0 {
		limit = a.limit
	}

	list, err := a.store.Notifications(ctx, limit, onlyUnread)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.list = list
	a.limit = limit
	fn := a.onChange
	a.mu.Unlock()

	if fn != nil {
		fn()
	}
	return list, nil
}

// OnPush 推送通道的通知变更信号
// 信号不携带完整通知体：未读数必回源，面板打开时列表也回源。
// 用网络换一致性，保证与服务端权威状态最终收敛。
func (a *Aggregator) OnPush() {
	ctx, cancel := context.WithTimeout(context.Background(), a.refetchTimeout)
	defer cancel()

	if _, err := a.LoadUnreadCount(ctx); err != nil {
		a.logger.Warn("Unread count refetch failed", "error", err)
	}

	a.mu.Lock()
	panelOpen := a.panelOpen
	limit := a.limit
	a.mu.Unlock()

	if panelOpen {
		if _, err := a.LoadRecent(ctx, limit, false); err != nil {
			a.logger.Warn("Notification list refetch failed", "error", err)
		}
	}
}

// SetPanelOpen 通知面板开关状态
func (a *Aggregator) SetPanelOpen(open bool) {
	a.mu.Lock()
	a.panelOpen = open
	a.mu.Unlock()
}

// MarkRead 标记单条通知已读
func (a *Aggregator) MarkRead(ctx context.Context, id string) error {
	a.mu.Lock()
	prevList, prevUnread := a.snapshotLocked()

	for i := range a.list {
		if a.list[i].ID == id && !a.list[i].IsRead {
			a.list[i].IsRead = true
			if a.unread > 0 {
				a.unread--
			}
			break
		}
	}
	fn := a.onChange
	a.mu.Unlock()

	if fn != nil {
		fn()
	}

	if err := a.store.MarkNotificationRead(ctx, id); err != nil {
		a.rollback(prevList, prevUnread)
		return err
	}
	return nil
}

// MarkAllRead 标记全部通知已读
func (a *Aggregator) MarkAllRead(ctx context.Context) error {
	a.mu.Lock()
	prevList, prevUnread := a.snapshotLocked()

	for i := range a.list {
		a.list[i].IsRead = true
	}
	a.unread = 0
	fn := a.onChange
	a.mu.Unlock()

	if fn != nil {
		fn()
	}

	if err := a.store.MarkAllNotificationsRead(ctx); err != nil {
		a.rollback(prevList, prevUnread)
		return err
	}
	return nil
}

// Delete 删除通知
func (a *Aggregator) Delete(ctx context.Context, id string) error {
	a.mu.Lock()
	prevList, prevUnread := a.snapshotLocked()

	for i := range a.list {
		if a.list[i].ID == id {
			if !a.list[i].IsRead && a.unread > 0 {
				a.unread--
			}
			a.list = append(a.list[:i], a.list[i+1:]...)
			break
		}
	}
	fn := a.onChange
	a.mu.Unlock()

	if fn != nil {
		fn()
	}

	if err := a.store.DeleteNotification(ctx, id); err != nil {
		a.rollback(prevList, prevUnread)
		return err
	}
	return nil
}

// UnreadCount 当前未读数
func (a *Aggregator) UnreadCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unread
}

// Recent 当前通知列表的副本
func (a *Aggregator) Recent() []model.Notification {
	a.mu.Lock()
	defer a.mu.Unlock()

	list := make([]model.Notification, len(a.list))
	copy(list, a.list)
	return list
}

// Reset 清空状态（登出时调用）
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.list = nil
	a.unread = 0
	a.panelOpen = false
	a.mu.Unlock()
}

// snapshotLocked 复制当前状态用于回滚，调用方需持锁
func (a *Aggregator) snapshotLocked() ([]model.Notification, int) {
	list := make([]model.Notification, len(a.list))
	copy(list, a.list)
	return list, a.unread
}

// rollback 回滚到乐观应用前的状态
func (a *Aggregator) rollback(list []model.Notification, unread int) {
	a.mu.Lock()
	a.list = list
	a.unread = unread
	fn := a.onChange
	a.mu.Unlock()

	a.logger.Warn("Optimistic mutation rolled back")

	if fn != nil {
		fn()
	}
}
