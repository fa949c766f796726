package protocol

// 推送通道事件名常量定义

const (
	// ============== 下行事件 (Server -> Client) ==============

	// EventMessageNotification 会话列表消息通知（所有参与者收到）
	EventMessageNotification = "message_notification"

	// EventNewMessage 完整新消息（仅已打开会话房间内收到）
	EventNewMessage = "new_message"

	// EventUserTyping 对端输入状态（仅已打开会话房间内收到）
	EventUserTyping = "user_typing"

	// EventMessageRead 对端已读回执（仅已打开会话房间内收到）
	EventMessageRead = "message_read"

	// EventNotificationPush 通知变更信号（不携带完整通知体，触发重新拉取）
	EventNotificationPush = "notification_push"

	// ============== 上行命令 (Client -> Server) ==============

	// CommandJoinRoom 加入会话房间
	CommandJoinRoom = "join_room"

	// CommandLeaveRoom 离开会话房间
	CommandLeaveRoom = "leave_room"

	// CommandSendMessage 发送消息
	CommandSendMessage = "send_message"

	// CommandSendTyping 发送输入状态
	CommandSendTyping = "send_typing"
)
