package protocol

// ============== 下行载荷 (Server -> Client) ==============

// MessageNotification 会话列表消息通知
// 只携带预览信息，完整消息走 NewMessage
type MessageNotification struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Preview        string `json:"preview"`
	Timestamp      int64  `json:"timestamp"`
}

// NewMessage 完整新消息
// ClientMsgID 为发送方生成的关联键，用于乐观消息的原位替换
type NewMessage struct {
	ID             string `json:"id"`
	ClientMsgID    string `json:"client_msg_id,omitempty"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"`
}

// UserTyping 输入状态信号
type UserTyping struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

// MessageRead 已读回执
type MessageRead struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// ============== 上行载荷 (Client -> Server) ==============

// RoomCommand 加入/离开房间命令
type RoomCommand struct {
	ConversationID string `json:"conversation_id"`
}

// SendMessage 发送消息命令
type SendMessage struct {
	ClientMsgID    string `json:"client_msg_id"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// SendTyping 发送输入状态命令
type SendTyping struct {
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}
