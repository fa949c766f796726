package channel

import "sudooom.im.client/internal/protocol"

// JoinRoom 按引用计数加入会话房间
// 同一会话的多个打开视图只发送一次 join_room
func (c *Channel) JoinRoom(conversationID string) {
	c.roomsMu.Lock()
	c.rooms[conversationID]++
	first := c.rooms[conversationID] == 1
	c.roomsMu.Unlock()

	if !first {
		return
	}

	// 未连接时只记录成员关系，重连后统一补发
	if err := c.Publish(protocol.CommandJoinRoom, protocol.RoomCommand{ConversationID: conversationID}); err != nil {
		c.logger.Debug("Join deferred until reconnect", "conversation_id", conversationID, "error", err)
	}
}

// LeaveRoom 释放一个引用，末个引用释放时发送 leave_room
func (c *Channel) LeaveRoom(conversationID string) {
	c.roomsMu.Lock()
	count, ok := c.rooms[conversationID]
	if !ok {
		c.roomsMu.Unlock()
		return
	}
	count--
	if count <= 0 {
		delete(c.rooms, conversationID)
	} else {
		c.rooms[conversationID] = count
	}
	last := count <= 0
	c.roomsMu.Unlock()

	if !last {
		return
	}

	if err := c.Publish(protocol.CommandLeaveRoom, protocol.RoomCommand{ConversationID: conversationID}); err != nil {
		c.logger.Debug("Leave skipped, channel down", "conversation_id", conversationID, "error", err)
	}
}

// RoomRefCount 返回会话房间当前引用计数（测试用）
func (c *Channel) RoomRefCount(conversationID string) int {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	return c.rooms[conversationID]
}

// rejoinRooms 重连成功后补发所有持有房间的 join_room
func (c *Channel) rejoinRooms() {
	c.roomsMu.Lock()
	ids := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	c.roomsMu.Unlock()

	for _, id := range ids {
		if err := c.Publish(protocol.CommandJoinRoom, protocol.RoomCommand{ConversationID: id}); err != nil {
			c.logger.Warn("Failed to rejoin room", "conversation_id", id, "error", err)
		}
	}
}
