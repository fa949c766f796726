package model

// DeliveryState 消息投递状态
type DeliveryState string

const (
	// DeliveryPending 乐观消息，等待服务端回显
	DeliveryPending DeliveryState = "pending"
	// DeliverySent 服务端已确认，持有正式ID
	DeliverySent DeliveryState = "sent"
	// DeliveryRead 对端已读
	DeliveryRead DeliveryState = "read"
	// DeliveryFailed 发送失败或超时，保留在列表中等待重试
	DeliveryFailed DeliveryState = "failed"
)

// Message 消息
// ID 只能由服务端分配；乐观阶段以 LocalKey 标识
type Message struct {
	ID             string        `json:"id,omitempty"`
	LocalKey       string        `json:"local_key,omitempty"` // 客户端生成的关联键
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id,omitempty"` // 乐观阶段为空，确认后填充
	Content        string        `json:"content"`
	Timestamp      int64         `json:"timestamp"` // 毫秒
	State          DeliveryState `json:"state"`
	IsMine         bool          `json:"is_mine"`
}
