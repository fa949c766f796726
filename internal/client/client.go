package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"sudooom.im.client/internal/channel"
	"sudooom.im.client/internal/config"
	"sudooom.im.client/internal/errs"
	"sudooom.im.client/internal/notify"
	"sudooom.im.client/internal/protocol"
	"sudooom.im.client/internal/registry"
	"sudooom.im.client/internal/snapshot"
	"sudooom.im.client/internal/stream"
	"sudooom.im.client/internal/task"
)

// Client 同步引擎门面
// 显式注入的连接管理服务：持有唯一的推送通道、快照拉取器、
// 会话注册表、通知聚合器和任务调度器，负责下行事件到各组件的路由。
// 所有实体都是会话作用域：Close/登出后全部清空，不做持久缓存。
type Client struct {
	cfg         *config.Config
	localUserID string

	ch        *channel.Channel
	snap      *snapshot.Client
	registry  *registry.Registry
	notifier  *notify.Aggregator
	scheduler *task.Scheduler

	mu      sync.Mutex
	streams map[string]*streamEntry
	closed  bool

	logger *slog.Logger
}

// streamEntry 打开的会话控制器及其视图引用计数
// 同一会话的多个打开视图共享一个控制器，首开 join，末关 leave
type streamEntry struct {
	ctrl *stream.Controller
	refs int
}

// New 创建同步引擎
func New(cfg *config.Config, localUserID string, logger *slog.Logger) *Client {
	snap := snapshot.New(cfg.API, cfg.Timeouts.Snapshot, logger)

	return &Client{
		cfg:         cfg,
		localUserID: localUserID,
		ch:          channel.New(cfg.Channel, cfg.API.Token, logger),
		snap:        snap,
		registry:    registry.New(snap, logger),
		notifier:    notify.New(snap, logger),
		scheduler:   task.NewScheduler(4),
		streams:     make(map[string]*streamEntry),
		logger:      logger.With("component", "Client"),
	}
}

// Start 启动调度器、建立推送通道连接并注册事件路由
func (c *Client) Start(ctx context.Context) error {
	if err := c.scheduler.Start(); err != nil {
		return errs.ErrServerError.Wrap(err)
	}

	c.subscribeEvents()

	if err := c.ch.Connect(ctx); err != nil {
		return err
	}

	return nil
}

// subscribeEvents 注册下行事件到各组件的路由
func (c *Client) subscribeEvents() {
	c.ch.Subscribe(protocol.EventMessageNotification, func(payload json.RawMessage) {
		var ev protocol.MessageNotification
		if err := json.Unmarshal(payload, &ev); err != nil {
			c.logger.Warn("Malformed message_notification", "error", err)
			return
		}
		// 自己发出的消息不计未读，通知事件只面向对端
		if ev.SenderID == c.localUserID {
			return
		}
		c.registry.ApplyIncomingMessageEvent(ev)
	})

	c.ch.Subscribe(protocol.EventNewMessage, func(payload json.RawMessage) {
		var ev protocol.NewMessage
		if err := json.Unmarshal(payload, &ev); err != nil {
			c.logger.Warn("Malformed new_message", "error", err)
			return
		}
		if ctrl := c.streamFor(ev.ConversationID); ctrl != nil {
			ctrl.OnIncomingMessage(ev)
		}
	})

	c.ch.Subscribe(protocol.EventUserTyping, func(payload json.RawMessage) {
		var ev protocol.UserTyping
		if err := json.Unmarshal(payload, &ev); err != nil {
			c.logger.Warn("Malformed user_typing", "error", err)
			return
		}
		if ctrl := c.streamFor(ev.ConversationID); ctrl != nil {
			ctrl.OnPeerTyping(ev)
		}
	})

	c.ch.Subscribe(protocol.EventMessageRead, func(payload json.RawMessage) {
		var ev protocol.MessageRead
		if err := json.Unmarshal(payload, &ev); err != nil {
			c.logger.Warn("Malformed message_read", "error", err)
			return
		}
		if ctrl := c.streamFor(ev.ConversationID); ctrl != nil {
			ctrl.OnMessageRead(ev)
		}
	})

	c.ch.Subscribe(protocol.EventNotificationPush, func(json.RawMessage) {
		c.notifier.OnPush()
	})
}

// Registry 会话注册表
func (c *Client) Registry() *registry.Registry {
	return c.registry
}

// Notifications 通知聚合器
func (c *Client) Notifications() *notify.Aggregator {
	return c.notifier
}

// Channel 推送通道（连接状态横幅等 UI 契约用）
func (c *Client) Channel() *channel.Channel {
	return c.ch
}

// OpenConversation 打开会话视图
// 返回（可能是共享的）消息流控制器：加入房间、拉取历史、本地清零未读
func (c *Client) OpenConversation(ctx context.Context, conversationID string) (*stream.Controller, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errs.ErrConversationClosed
	}

	entry, ok := c.streams[conversationID]
	if !ok {
		ctrl := stream.NewController(stream.Options{
			ConversationID: conversationID,
			LocalUserID:    c.localUserID,
			QuietWindowSec: int(c.cfg.Timeouts.TypingQuiet.Seconds()),
			SendTimeoutSec: int(c.cfg.Timeouts.Send.Seconds()),
		}, c.ch, c.snap, schedulerTimers{c.scheduler}, c.logger)

		entry = &streamEntry{ctrl: ctrl}
		c.streams[conversationID] = entry
	}
	entry.refs++
	c.mu.Unlock()

	c.ch.JoinRoom(conversationID)
	c.registry.MarkOpened(conversationID)

	if err := entry.ctrl.LoadHistory(ctx); err != nil {
		// 历史加载失败不回收控制器，调用方可重试
		return entry.ctrl, err
	}

	return entry.ctrl, nil
}

// CloseConversation 关闭会话视图，末个视图关闭时释放控制器和房间
func (c *Client) CloseConversation(conversationID string) {
	c.mu.Lock()
	entry, ok := c.streams[conversationID]
	if !ok {
		c.mu.Unlock()
		return
	}
	entry.refs--
	last := entry.refs <= 0
	if last {
		delete(c.streams, conversationID)
	}
	c.mu.Unlock()

	c.ch.LeaveRoom(conversationID)

	if last {
		entry.ctrl.Close()
	}
}

// streamFor 查找已打开会话的控制器
func (c *Client) streamFor(conversationID string) *stream.Controller {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.streams[conversationID]; ok {
		return entry.ctrl
	}
	return nil
}

// Close 关闭引擎：关闭所有控制器、通道和调度器，清空会话作用域状态
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	entries := make([]*streamEntry, 0, len(c.streams))
	for _, e := range c.streams {
		entries = append(entries, e)
	}
	c.streams = make(map[string]*streamEntry)
	c.mu.Unlock()

	for _, e := range entries {
		e.ctrl.Close()
	}

	c.ch.Close()
	c.scheduler.Stop()
	c.registry.Reset()
	c.notifier.Reset()

	c.logger.Info("Client closed")
}

// schedulerTimers 任务调度器到 stream.Timers 的适配
type schedulerTimers struct {
	s *task.Scheduler
}

func (t schedulerTimers) Schedule(id, target string, delaySeconds int, fn func(target string)) {
	_ = t.s.Schedule(task.NewTask(id, target, delaySeconds, func(_ context.Context, tgt string) error {
		fn(tgt)
		return nil
	}))
}

func (t schedulerTimers) Cancel(id string) bool {
	return t.s.Cancel(id)
}
