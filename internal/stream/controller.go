package stream

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sudooom.im.client/internal/errs"
	"sudooom.im.client/internal/model"
	"sudooom.im.client/internal/protocol"
)

// Publisher 上行命令出口（由推送通道适配器实现）
type Publisher interface {
	Connected() bool
	Publish(event string, payload any) error
}

// HistoryFetcher 历史消息与已读回执的 REST 来源
type HistoryFetcher interface {
	History(ctx context.Context, conversationID string) ([]model.Message, error)
	MarkConversationRead(ctx context.Context, conversationID string) error
}

// Timers 秒级定时语义（由任务调度器实现，测试可替换）
// 同 ID 重复 Schedule 为重新武装
type Timers interface {
	Schedule(id, target string, delaySeconds int, fn func(target string))
	Cancel(id string) bool
}

// Controller 消息流控制器
// 每个打开的会话一个实例，视图关闭时 Close。
// 合并 REST 历史与实时事件，跟踪每条消息的投递状态机：
// pending -> sent -> read，pending 超时或发送失败进入 failed。
type Controller struct {
	conversationID string
	localUserID    string

	ch     Publisher
	snap   HistoryFetcher
	timers Timers

	// quietWindow 输入静默窗口（秒），发送端自动 stop 与对端过期共用
	quietWindow int
	// sendTimeout 发送确认超时（秒）
	sendTimeout int

	mu           sync.Mutex
	messages     []model.Message
	peerTyping   bool
	typingActive bool // 本端是否处于"正在输入"状态
	closed       bool

	onChange     func()
	onPeerTyping func(isTyping bool)

	logger *slog.Logger
}

// Options 控制器参数
type Options struct {
	ConversationID string
	LocalUserID    string
	QuietWindowSec int
	SendTimeoutSec int
}

// NewController 创建消息流控制器
func NewController(opts Options, ch Publisher, snap HistoryFetcher, timers Timers, logger *slog.Logger) *Controller {
	if opts.QuietWindowSec <= 0 {
		opts.QuietWindowSec = 2
	}
	if opts.SendTimeoutSec <= 0 {
		opts.SendTimeoutSec = 10
	}

	return &Controller{
		conversationID: opts.ConversationID,
		localUserID:    opts.LocalUserID,
		ch:             ch,
		snap:           snap,
		timers:         timers,
		quietWindow:    opts.QuietWindowSec,
		sendTimeout:    opts.SendTimeoutSec,
		logger: logger.With(
			"component", "StreamController",
			"conversation_id", opts.ConversationID),
	}
}

// ConversationID 返回所属会话ID
func (c *Controller) ConversationID() string {
	return c.conversationID
}

// OnChange 注册消息列表变化回调
func (c *Controller) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// OnPeerTypingChange 注册对端输入状态变化回调
func (c *Controller) OnPeerTypingChange(fn func(isTyping bool)) {
	c.mu.Lock()
	c.onPeerTyping = fn
	c.mu.Unlock()
}

// LoadHistory 拉取历史消息页并与已有实时消息合并
// 合并按正式ID去重：快照完成前已被实时追加的消息不会重复出现。
// 副作用：触发会话已读回执（消息因被查看而隐式已读）。
func (c *Controller) LoadHistory(ctx context.Context) error {
	history, err := c.snap.History(ctx, c.conversationID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errs.ErrConversationClosed
	}

	seen := make(map[string]bool, len(history))
	for i := range history {
		history[i].State = c.normalizeState(history[i])
		seen[history[i].ID] = true
	}

	// 保留快照中不存在的本地条目：乐观/失败消息和更新的实时消息
	for _, msg := range c.messages {
		if msg.ID == "" || !seen[msg.ID] {
			history = append(history, msg)
		}
	}

	c.messages = history
	fn := c.onChange
	c.mu.Unlock()

	c.logger.Debug("History loaded", "count", len(history))

	if fn != nil {
		fn()
	}

	// 查看即已读，失败不回滚，以下一次快照为准
	if err := c.snap.MarkConversationRead(ctx, c.conversationID); err != nil {
		c.logger.Warn("Mark read failed", "error", err)
	}

	return nil
}

// Send 发送消息
// 内容去空白后为空直接拒绝；通道断开时拒绝且不留下乐观条目。
// 成功路径：先追加 pending 乐观条目，服务端回显带 client_msg_id
// 后原位替换为正式消息；超时未回显转为 failed。
func (c *Controller) Send(content string) (model.Message, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return model.Message{}, errs.ErrEmptyContent
	}

	if !c.ch.Connected() {
		return model.Message{}, errs.ErrChannelUnavailable
	}

	msg := model.Message{
		LocalKey:       uuid.NewString(),
		ConversationID: c.conversationID,
		Content:        trimmed,
		Timestamp:      time.Now().UnixMilli(),
		State:          model.DeliveryPending,
		IsMine:         true,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.Message{}, errs.ErrConversationClosed
	}
	c.messages = append(c.messages, msg)
	fn := c.onChange
	c.mu.Unlock()

	if fn != nil {
		fn()
	}

	if err := c.publishSend(msg); err != nil {
		c.markFailed(msg.LocalKey)
		return msg, errs.ErrSendFailed.Wrap(err)
	}

	return msg, nil
}

// Retry 重试一条 failed 消息
func (c *Controller) Retry(localKey string) error {
	if !c.ch.Connected() {
		return errs.ErrChannelUnavailable
	}

	c.mu.Lock()
	idx := c.indexByLocalKeyLocked(localKey)
	if idx < 0 || c.messages[idx].State != model.DeliveryFailed {
		c.mu.Unlock()
		return errs.ErrInvalidParams
	}
	c.messages[idx].State = model.DeliveryPending
	msg := c.messages[idx]
	fn := c.onChange
	c.mu.Unlock()

	if fn != nil {
		fn()
	}

	if err := c.publishSend(msg); err != nil {
		c.markFailed(localKey)
		return errs.ErrSendFailed.Wrap(err)
	}

	return nil
}

// publishSend 发布发送命令并武装超时任务
func (c *Controller) publishSend(msg model.Message) error {
	err := c.ch.Publish(protocol.CommandSendMessage, protocol.SendMessage{
		ClientMsgID:    msg.LocalKey,
		ConversationID: c.conversationID,
		Content:        msg.Content,
	})
	if err != nil {
		return err
	}

	localKey := msg.LocalKey
	c.timers.Schedule("send_timeout:"+localKey, localKey, c.sendTimeout, func(target string) {
		c.onSendTimeout(target)
	})

	return nil
}

// onSendTimeout 发送超时：仍为 pending 的条目转为 failed
func (c *Controller) onSendTimeout(localKey string) {
	c.mu.Lock()
	idx := c.indexByLocalKeyLocked(localKey)
	if idx < 0 || c.messages[idx].State != model.DeliveryPending {
		c.mu.Unlock()
		return
	}
	c.messages[idx].State = model.DeliveryFailed
	fn := c.onChange
	c.mu.Unlock()

	c.logger.Warn("Send timed out", "local_key", localKey)

	if fn != nil {
		fn()
	}
}

// markFailed 将指定本地键的消息标记为 failed
func (c *Controller) markFailed(localKey string) {
	c.timers.Cancel("send_timeout:" + localKey)

	c.mu.Lock()
	idx := c.indexByLocalKeyLocked(localKey)
	if idx >= 0 {
		c.messages[idx].State = model.DeliveryFailed
	}
	fn := c.onChange
	c.mu.Unlock()

	if idx >= 0 && fn != nil {
		fn()
	}
}

// OnIncomingMessage 处理下行完整新消息
// 只接收本会话的消息；通道按发送顺序投递，直接尾部追加。
// 自己发出的回显按 client_msg_id 原位替换乐观条目，
// 没有关联键时按相同内容的最早 pending 条目兜底。
func (c *Controller) OnIncomingMessage(ev protocol.NewMessage) {
	if ev.ConversationID != c.conversationID {
		return
	}

	isMine := ev.SenderID == c.localUserID

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	// 正式ID去重：快照与实时事件竞态时的幂等保护
	if ev.ID != "" && c.indexByIDLocked(ev.ID) >= 0 {
		c.mu.Unlock()
		return
	}

	promoted := false
	if isMine {
		idx := -1
		if ev.ClientMsgID != "" {
			idx = c.indexByLocalKeyLocked(ev.ClientMsgID)
		}
		if idx < 0 {
			idx = c.oldestPendingByContentLocked(ev.Content)
		}
		if idx >= 0 {
			localKey := c.messages[idx].LocalKey
			c.messages[idx].ID = ev.ID
			c.messages[idx].SenderID = ev.SenderID
			c.messages[idx].Timestamp = ev.Timestamp
			c.messages[idx].State = model.DeliverySent
			promoted = true
			c.timers.Cancel("send_timeout:" + localKey)
		}
	}

	if !promoted {
		state := model.DeliverySent
		c.messages = append(c.messages, model.Message{
			ID:             ev.ID,
			ConversationID: ev.ConversationID,
			SenderID:       ev.SenderID,
			Content:        ev.Content,
			Timestamp:      ev.Timestamp,
			State:          state,
			IsMine:         isMine,
		})
	}

	fn := c.onChange
	c.mu.Unlock()

	if fn != nil {
		fn()
	}

	// 对端消息在查看中即已读
	if !isMine {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.snap.MarkConversationRead(ctx, c.conversationID); err != nil {
				c.logger.Warn("Mark read failed", "error", err)
			}
		}()
	}
}

// OnMessageRead 处理对端已读回执
func (c *Controller) OnMessageRead(ev protocol.MessageRead) {
	if ev.ConversationID != c.conversationID {
		return
	}

	c.mu.Lock()
	idx := c.indexByIDLocked(ev.MessageID)
	changed := false
	if idx >= 0 && c.messages[idx].State == model.DeliverySent {
		c.messages[idx].State = model.DeliveryRead
		changed = true
	}
	fn := c.onChange
	c.mu.Unlock()

	if changed && fn != nil {
		fn()
	}
}

// Messages 返回当前消息列表的副本
func (c *Controller) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := make([]model.Message, len(c.messages))
	copy(list, c.messages)
	return list
}

// Close 关闭控制器：取消定时任务、必要时补发输入停止信号
// 房间 leave 由连接管理侧的引用计数负责
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	wasTyping := c.typingActive
	c.typingActive = false
	c.mu.Unlock()

	c.timers.Cancel("typing_stop:" + c.conversationID)

	if wasTyping {
		c.publishTyping(false)
	}

	c.logger.Debug("Stream controller closed")
}

// normalizeState 快照消息缺省投递状态时的推导
func (c *Controller) normalizeState(msg model.Message) model.DeliveryState {
	if msg.State != "" {
		return msg.State
	}
	return model.DeliverySent
}

func (c *Controller) indexByIDLocked(id string) int {
	for i := range c.messages {
		if c.messages[i].ID != "" && c.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Controller) indexByLocalKeyLocked(localKey string) int {
	for i := range c.messages {
		if c.messages[i].LocalKey != "" && c.messages[i].LocalKey == localKey {
			return i
		}
	}
	return -1
}

// oldestPendingByContentLocked 相同内容的最早 pending 条目（无关联键时的兜底）
func (c *Controller) oldestPendingByContentLocked(content string) int {
	for i := range c.messages {
		if c.messages[i].State == model.DeliveryPending && c.messages[i].Content == content {
			return i
		}
	}
	return -1
}
