package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"sudooom.im.client/internal/config"
	"sudooom.im.client/internal/errs"
	"sudooom.im.client/internal/protocol"
)

// Handler 事件处理函数类型
type Handler func(payload json.RawMessage)

// Channel 推送通道适配器
// 包装唯一的一条 WebSocket 连接：负责连接生命周期、断线重连、
// 按事件名分发下行帧、以及引用计数的房间成员关系。
// 上层（会话注册表、消息流控制器、通知聚合器）共享同一个实例。
type Channel struct {
	cfg    config.ChannelConfig
	header http.Header
	dialer *websocket.Dialer
	logger *slog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	connected atomic.Bool
	writeChan chan []byte
	closeChan chan struct{}
	closeOnce sync.Once

	handlers   map[string][]Handler
	handlersMu sync.RWMutex

	// rooms 会话ID -> 打开视图引用计数
	// 首个引用发 join_room，末个引用释放时发 leave_room
	rooms   map[string]int
	roomsMu sync.Mutex

	// onState 连接状态变化回调（UI 横幅用）
	onState   func(connected bool)
	onStateMu sync.RWMutex
}

// New 创建推送通道适配器
// token 为透传的会话令牌，认证本身由外部负责
func New(cfg config.ChannelConfig, token string, logger *slog.Logger) *Channel {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 90 * time.Second
	}

	return &Channel{
		cfg:       cfg,
		header:    header,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:    logger.With("component", "Channel"),
		writeChan: make(chan []byte, 256),
		closeChan: make(chan struct{}),
		handlers:  make(map[string][]Handler),
		rooms:     make(map[string]int),
	}
}

// Connect 建立连接并启动读写协程
func (c *Channel) Connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.header)
	if err != nil {
		return errs.ErrChannelUnavailable.Wrap(err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.setConnected(true)

	go c.writeLoop()
	go c.readLoop(conn)
	go c.keepalive(conn)

	c.logger.Info("Channel connected", "url", c.cfg.URL)

	return nil
}

// Connected 当前连接状态
func (c *Channel) Connected() bool {
	return c.connected.Load()
}

// OnStateChange 注册连接状态变化回调
func (c *Channel) OnStateChange(fn func(connected bool)) {
	c.onStateMu.Lock()
	c.onState = fn
	c.onStateMu.Unlock()
}

// Subscribe 按事件名订阅下行帧
func (c *Channel) Subscribe(event string, fn Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	c.handlers[event] = append(c.handlers[event], fn)
}

// Publish 发送上行命令帧
// 通道未连接时返回 ErrChannelUnavailable，不做离线排队
func (c *Channel) Publish(event string, payload any) error {
	if !c.connected.Load() {
		return errs.ErrChannelUnavailable
	}

	data, err := protocol.Encode(event, payload)
	if err != nil {
		return errs.ErrSendFailed.Wrap(err)
	}

	select {
	case c.writeChan <- data:
		return nil
	case <-c.closeChan:
		return errs.ErrChannelUnavailable
	}
}

// Close 关闭通道，停止读写协程和重连
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		c.setConnected(false)

		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.connMu.Unlock()

		c.logger.Info("Channel closed")
	})
}

// writeLoop 写协程：串行消费 writeChan
func (c *Channel) writeLoop() {
	for {
		select {
		case data := <-c.writeChan:
			conn := c.activeConn()
			if conn == nil {
				c.logger.Warn("Dropped outbound frame, no active connection")
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error("Failed to write frame", "error", err)
			}
		case <-c.closeChan:
			return
		}
	}
}

// readLoop 读协程：解析下行帧并分发，读错误触发重连
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closeChan:
				return
			default:
			}

			c.logger.Warn("Channel read failed, reconnecting", "error", err)
			c.setConnected(false)
			go c.reconnectLoop()
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("Dropped malformed frame", "error", err)
			continue
		}

		c.dispatch(env)
	}
}

// dispatch 分发下行帧到订阅者
func (c *Channel) dispatch(env *protocol.Envelope) {
	c.handlersMu.RLock()
	handlers := c.handlers[env.Event]
	c.handlersMu.RUnlock()

	if len(handlers) == 0 {
		c.logger.Debug("No subscriber for event", "event", env.Event)
		return
	}

	for _, fn := range handlers {
		fn(env.Payload)
	}
}

// reconnectLoop 指数退避重连，成功后重新加入所有持有的房间
func (c *Channel) reconnectLoop() {
	wait := c.cfg.ReconnectWait
	attempts := 0

	for {
		select {
		case <-c.closeChan:
			return
		case <-time.After(wait):
		}

		attempts++
		if c.cfg.MaxReconnects >= 0 && attempts > c.cfg.MaxReconnects {
			c.logger.Error("Reconnect attempts exhausted", "attempts", attempts-1)
			return
		}

		conn, _, err := c.dialer.Dial(c.cfg.URL, c.header)
		if err != nil {
			c.logger.Warn("Reconnect failed", "attempt", attempts, "error", err)
			wait *= 2
			if wait > c.cfg.MaxReconnectWait {
				wait = c.cfg.MaxReconnectWait
			}
			continue
		}

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()

		c.setConnected(true)
		go c.readLoop(conn)
		go c.keepalive(conn)

		c.rejoinRooms()

		c.logger.Info("Channel reconnected", "attempts", attempts)
		return
	}
}

func (c *Channel) activeConn() *websocket.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

func (c *Channel) setConnected(connected bool) {
	old := c.connected.Swap(connected)
	if old == connected {
		return
	}

	c.onStateMu.RLock()
	fn := c.onState
	c.onStateMu.RUnlock()

	if fn != nil {
		fn(connected)
	}
}
