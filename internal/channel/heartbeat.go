package channel

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// keepalive 连接保活
// 周期性发 ping 并跟踪最近一次 pong：静默超过超时阈值视为
// 半开连接，主动关闭触发读协程的重连路径。
// 每条物理连接一个实例，连接被替换后自行退出。
func (c *Channel) keepalive(conn *websocket.Conn) {
	var lastPong atomic.Int64
	lastPong.Store(time.Now().UnixMilli())

	conn.SetPongHandler(func(string) error {
		lastPong.Store(time.Now().UnixMilli())
		return nil
	})

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeChan:
			return
		case <-ticker.C:
		}

		// 连接已被重连替换
		if c.activeConn() != conn {
			return
		}

		silent := time.Now().UnixMilli() - lastPong.Load()
		if silent > c.cfg.PongTimeout.Milliseconds() {
			c.logger.Warn("Heartbeat timed out, closing connection", "silent_ms", silent)
			conn.Close()
			return
		}

		deadline := time.Now().Add(c.cfg.PingInterval)
		if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			c.logger.Debug("Ping failed", "error", err)
			return
		}
	}
}
