package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"sudooom.im.client/internal/config"
	"sudooom.im.client/internal/errs"
	"sudooom.im.client/internal/model"
)

// Client 快照拉取器
// 负责所有点时快照类 REST 调用：会话列表、历史消息、未读数、通知列表，
// 供初始加载和推送事件后的对账回源使用
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// envelope 服务端统一响应结构 {code, message, data}
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// New 创建快照拉取器
func New(cfg config.APIConfig, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{},
		timeout: timeout,
		logger:  logger.With("component", "Snapshot"),
	}
}

// Conversations 拉取会话列表快照
func (c *Client) Conversations(ctx context.Context) ([]model.Conversation, error) {
	var list []model.Conversation
	if err := c.call(ctx, http.MethodGet, "/api/v1/conversations", nil, &list); err != nil {
		return nil, errs.ErrSnapshotFailed.Wrap(err)
	}
	return list, nil
}

// History 拉取指定会话的历史消息页（按时间升序）
func (c *Client) History(ctx context.Context, conversationID string) ([]model.Message, error) {
	path := "/api/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	var list []model.Message
	if err := c.call(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, errs.ErrHistoryLoad.Wrap(err)
	}
	return list, nil
}

// MarkConversationRead 会话已读回执
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) error {
	path := "/api/v1/conversations/" + url.PathEscape(conversationID) + "/read"
	if err := c.call(ctx, http.MethodPost, path, nil, nil); err != nil {
		return errs.ErrSnapshotFailed.Wrap(err)
	}
	return nil
}

// Notifications 拉取通知列表快照
func (c *Client) Notifications(ctx context.Context, limit int, onlyUnread bool) ([]model.Notification, error) {
	path := fmt.Sprintf("/api/v1/notifications?limit=%d&unread=%t", limit, onlyUnread)
	var list []model.Notification
	if err := c.call(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, errs.ErrSnapshotFailed.Wrap(err)
	}
	return list, nil
}

// UnreadCount 拉取未读通知数
// 非关键读路径：带超时兜底，失败时返回错误由调用方决定降级值
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var result struct {
		Count int `json:"count"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/notifications/unread_count", nil, &result); err != nil {
		return 0, errs.ErrSnapshotFailed.Wrap(err)
	}
	return result.Count, nil
}

// MarkNotificationRead 标记单条通知已读
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	path := "/api/v1/notifications/" + url.PathEscape(id) + "/read"
	if err := c.call(ctx, http.MethodPost, path, nil, nil); err != nil {
		return errs.ErrSnapshotFailed.Wrap(err)
	}
	return nil
}

// MarkAllNotificationsRead 标记全部通知已读
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	if err := c.call(ctx, http.MethodPost, "/api/v1/notifications/read_all", nil, nil); err != nil {
		return errs.ErrSnapshotFailed.Wrap(err)
	}
	return nil
}

// DeleteNotification 删除通知
func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	path := "/api/v1/notifications/" + url.PathEscape(id)
	if err := c.call(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return errs.ErrSnapshotFailed.Wrap(err)
	}
	return nil
}

// call 执行一次 REST 调用并解析统一响应结构
func (c *Client) call(ctx context.Context, method, path string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return err
	}

	if env.Code != errs.CodeSuccess {
		return errs.NewError(env.Code, env.Message)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return err
		}
	}

	return nil
}
