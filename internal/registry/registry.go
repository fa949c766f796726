package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"sudooom.im.client/internal/model"
	"sudooom.im.client/internal/protocol"
)

// Snapshotter 会话快照来源，便于测试替换
type Snapshotter interface {
	Conversations(ctx context.Context) ([]model.Conversation, error)
}

// Registry 会话注册表
// 维护按最近活跃时间降序的会话列表，合并快照与实时事件。
// 排序不变式：任何事件序列之后列表都保持 last_activity 降序，
// 时间相同的会话保持原有相对顺序（稳定排序，避免视觉抖动）。
type Registry struct {
	store Snapshotter

	mu            sync.RWMutex
	conversations []model.Conversation

	// onGap 事件引用了本地不存在的会话时的回调
	// 注册表本身只丢弃事件并计数，是否全量回源由消费方决定
	onGap    func(conversationID string)
	gapCount atomic.Int64

	// onChange 列表变化回调（UI 重渲染用）
	onChange func()

	logger *slog.Logger
}

// New 创建会话注册表
func New(store Snapshotter, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger.With("component", "Registry"),
	}
}

// OnGap 注册对账缺口回调
func (r *Registry) OnGap(fn func(conversationID string)) {
	r.mu.Lock()
	r.onGap = fn
	r.mu.Unlock()
}

// OnChange 注册列表变化回调
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// LoadInitial 拉取会话快照并整体替换内存列表
func (r *Registry) LoadInitial(ctx context.Context) error {
	list, err := r.store.Conversations(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.conversations = list
	r.sortLocked()
	fn := r.onChange
	r.mu.Unlock()

	r.logger.Info("Conversation snapshot loaded", "count", len(list))

	if fn != nil {
		fn()
	}
	return nil
}

// ApplyIncomingMessageEvent 应用推送通道的消息通知事件
// 更新预览、未读数+1、最近活跃时间，并重排序。
// 本地不存在的会话：丢弃事件、计数并触发 onGap。
func (r *Registry) ApplyIncomingMessageEvent(ev protocol.MessageNotification) {
	r.mu.Lock()

	idx := r.indexOfLocked(ev.ConversationID)
	if idx < 0 {
		gapFn := r.onGap
		r.mu.Unlock()

		r.gapCount.Add(1)
		r.logger.Warn("Dropped event for unknown conversation", "conversation_id", ev.ConversationID)
		if gapFn != nil {
			gapFn(ev.ConversationID)
		}
		return
	}

	conv := &r.conversations[idx]
	conv.LastMessage = &model.LastMessage{
		Content:   ev.Preview,
		Timestamp: ev.Timestamp,
		IsMine:    false,
	}
	conv.UnreadCount++
	conv.LastActivity = ev.Timestamp

	r.sortLocked()
	fn := r.onChange
	r.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// MarkOpened 本地清零未读数
// 已读回执的服务端往返由消息流控制器负责，失败时以下一次快照为准
func (r *Registry) MarkOpened(conversationID string) {
	r.mu.Lock()

	idx := r.indexOfLocked(conversationID)
	if idx >= 0 {
		r.conversations[idx].UnreadCount = 0
	}
	fn := r.onChange
	r.mu.Unlock()

	if idx >= 0 && fn != nil {
		fn()
	}
}

// List 返回当前会话列表的副本
func (r *Registry) List() []model.Conversation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]model.Conversation, len(r.conversations))
	copy(list, r.conversations)
	return list
}

// Get 按ID查找会话
func (r *Registry) Get(conversationID string) (model.Conversation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx := r.indexOfLocked(conversationID)
	if idx < 0 {
		return model.Conversation{}, false
	}
	return r.conversations[idx], true
}

// GapCount 返回已丢弃的对账缺口事件数
func (r *Registry) GapCount() int64 {
	return r.gapCount.Load()
}

// Reset 清空列表（登出/视图关闭时调用，仅会话作用域，不做持久缓存）
func (r *Registry) Reset() {
	r.mu.Lock()
	r.conversations = nil
	r.mu.Unlock()
}

// indexOfLocked 查找会话下标，调用方需持锁
func (r *Registry) indexOfLocked(conversationID string) int {
	for i := range r.conversations {
		if r.conversations[i].ID == conversationID {
			return i
		}
	}
	return -1
}

// sortLocked 按最近活跃时间降序稳定排序，调用方需持锁
func (r *Registry) sortLocked() {
	sort.SliceStable(r.conversations, func(i, j int) bool {
		return r.conversations[i].LastActivity > r.conversations[j].LastActivity
	})
}
