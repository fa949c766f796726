package stream

import (
	"sudooom.im.client/internal/protocol"
)

// 输入指示协议
// 两端各自持有一个静默定时器，且都派生自同一个 quietWindow 常量：
// 发送端静默到期自动补发 stop，接收端到期自动清除对端标志，
// 即使对端的 stop 信号丢失也能收敛。

// NotifyTyping 本端输入内容变化时调用
// start 信号做节流：已处于输入状态时只重新武装静默定时器
func (c *Controller) NotifyTyping(isTypingNow bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	if !isTypingNow {
		wasTyping := c.typingActive
		c.typingActive = false
		c.mu.Unlock()

		c.timers.Cancel("typing_stop:" + c.conversationID)
		if wasTyping {
			c.publishTyping(false)
		}
		return
	}

	first := !c.typingActive
	c.typingActive = true
	c.mu.Unlock()

	if first {
		c.publishTyping(true)
	}

	// 每次按键重新武装自动 stop
	c.timers.Schedule("typing_stop:"+c.conversationID, c.conversationID, c.quietWindow, func(string) {
		c.autoStopTyping()
	})
}

// autoStopTyping 静默窗口到期：补发 stop 信号
func (c *Controller) autoStopTyping() {
	c.mu.Lock()
	if c.closed || !c.typingActive {
		c.mu.Unlock()
		return
	}
	c.typingActive = false
	c.mu.Unlock()

	c.publishTyping(false)
}

// publishTyping 发布输入状态，尽力而为，失败只记日志
func (c *Controller) publishTyping(isTyping bool) {
	err := c.ch.Publish(protocol.CommandSendTyping, protocol.SendTyping{
		ConversationID: c.conversationID,
		IsTyping:       isTyping,
	})
	if err != nil {
		c.logger.Debug("Typing signal dropped", "is_typing", isTyping, "error", err)
	}
}

// OnPeerTyping 处理对端输入状态事件
// 标志带防御性过期：静默窗口内没有后续信号自动清除
func (c *Controller) OnPeerTyping(ev protocol.UserTyping) {
	if ev.ConversationID != c.conversationID || ev.UserID == c.localUserID {
		return
	}

	taskID := "peer_typing:" + c.conversationID + ":" + ev.UserID

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	changed := c.peerTyping != ev.IsTyping
	c.peerTyping = ev.IsTyping
	fn := c.onPeerTyping
	c.mu.Unlock()

	if ev.IsTyping {
		c.timers.Schedule(taskID, ev.UserID, c.quietWindow, func(string) {
			c.expirePeerTyping()
		})
	} else {
		c.timers.Cancel(taskID)
	}

	if changed && fn != nil {
		fn(ev.IsTyping)
	}
}

// expirePeerTyping 对端静默窗口到期：清除输入标志
func (c *Controller) expirePeerTyping() {
	c.mu.Lock()
	if c.closed || !c.peerTyping {
		c.mu.Unlock()
		return
	}
	c.peerTyping = false
	fn := c.onPeerTyping
	c.mu.Unlock()

	if fn != nil {
		fn(false)
	}
}

// PeerTyping 对端是否正在输入
func (c *Controller) PeerTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerTyping
}
