package model

// Peer 会话对端的公开身份
type Peer struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

// LastMessage 会话列表的最后一条消息预览
type LastMessage struct {
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // 毫秒
	IsMine    bool   `json:"is_mine"`
}

// Conversation 会话信息
// 身份由服务端生成，客户端只做镜像
type Conversation struct {
	ID           string       `json:"id"`
	Peer         Peer         `json:"peer"`
	LastMessage  *LastMessage `json:"last_message,omitempty"`
	UnreadCount  int          `json:"unread_count"`
	LastActivity int64        `json:"last_activity"` // 毫秒
}
