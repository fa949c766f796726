package model

// NotificationType 通知类型
type NotificationType string

const (
	NotificationMessage     NotificationType = "message"
	NotificationProfileView NotificationType = "profile_view"
	NotificationNewUser     NotificationType = "new_user"
	NotificationOther       NotificationType = "other"
)

// Notification 通知
// 身份由服务端生成，客户端只做镜像；未读数是派生值，
// 必须能与列表中 is_read 标志的计数对账
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body,omitempty"`
	Link      string           `json:"link,omitempty"`
	IsRead    bool             `json:"is_read"`
	CreatedAt int64            `json:"created_at"` // 毫秒
}
