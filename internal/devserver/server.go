package devserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"sudooom.im.client/internal/errs"
	"sudooom.im.client/internal/model"
	"sudooom.im.client/internal/protocol"
)

// Server 开发/测试用的后端替身
// 模拟平台的快照 REST 面和推送通道：集成测试和演示程序
// 用它代替真实后端。认证只做不透明令牌透传（令牌即用户ID）。
type Server struct {
	mu            sync.Mutex
	conversations map[string]*conversation
	notifications map[string][]model.Notification // userID -> 通知列表
	msgSeq        int

	hub      *hub
	upgrader websocket.Upgrader
	httpSrv  *httptest.Server
	logger   *slog.Logger
}

// conversation 服务端会话状态
type conversation struct {
	id           string
	participants [2]model.Peer
	messages     []model.Message
	unread       map[string]int // userID -> 未读数
	lastActivity int64
}

// response 统一响应结构 {code, message, data}
type response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// New 启动后端替身，返回前调用方需 defer Close
func New(logger *slog.Logger) *Server {
	s := &Server{
		conversations: make(map[string]*conversation),
		notifications: make(map[string][]model.Notification),
		hub:           newHub(logger),
		upgrader:      websocket.Upgrader{},
		logger:        logger.With("component", "DevServer"),
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/v1", s.authRequired)
	{
		api.GET("/conversations", s.listConversations)
		api.GET("/conversations/:id/messages", s.listMessages)
		api.POST("/conversations/:id/read", s.markConversationRead)
		api.GET("/notifications", s.listNotifications)
		api.GET("/notifications/unread_count", s.unreadCount)
		api.POST("/notifications/:id/read", s.markNotificationRead)
		api.POST("/notifications/read_all", s.markAllNotificationsRead)
		api.DELETE("/notifications/:id", s.deleteNotification)
	}
	router.GET("/ws", s.serveWS)
	router.GET("/healthz", s.healthz)

	s.httpSrv = httptest.NewServer(router)
	return s
}

// BaseURL REST 基础地址
func (s *Server) BaseURL() string {
	return s.httpSrv.URL
}

// ChannelURL 推送通道地址
func (s *Server) ChannelURL() string {
	return "ws" + strings.TrimPrefix(s.httpSrv.URL, "http") + "/ws"
}

// Close 停止服务
func (s *Server) Close() {
	s.httpSrv.Close()
}

// ============== 测试数据注入 ==============

// SeedConversation 注入一条会话
func (s *Server) SeedConversation(id string, a, b model.Peer, lastActivity int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations[id] = &conversation{
		id:           id,
		participants: [2]model.Peer{a, b},
		unread:       make(map[string]int),
		lastActivity: lastActivity,
	}
}

// SeedMessage 注入一条历史消息
func (s *Server) SeedMessage(conversationID, senderID, content string, ts int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return ""
	}

	s.msgSeq++
	id := fmt.Sprintf("msg-%d", s.msgSeq)
	conv.messages = append(conv.messages, model.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Timestamp:      ts,
		State:          model.DeliverySent,
	})
	if ts > conv.lastActivity {
		conv.lastActivity = ts
	}
	for _, p := range conv.participants {
		if p.ID != senderID {
			conv.unread[p.ID]++
		}
	}
	return id
}

// SeedNotification 注入一条通知
func (s *Server) SeedNotification(userID string, n model.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifications[userID] = append(s.notifications[userID], n)
}

// Emit 直接向某用户推送一个事件（模拟服务端驱动的场景）
func (s *Server) Emit(userID, event string, payload any) {
	s.hub.emitToUser(userID, event, payload)
}

// EmitToRoom 直接向房间推送一个事件
func (s *Server) EmitToRoom(conversationID, event string, payload any) {
	s.hub.emitToRoom(conversationID, event, payload)
}

// healthz 健康检查: 服务名和当前接入连接数
func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":     "devserver",
		"connections": s.hub.count(),
	})
}

// ============== REST 处理器 ==============

// authRequired 解析 Bearer 令牌（替身实现：令牌即用户ID）
func (s *Server) authRequired(c *gin.Context) {
	auth := c.GetHeader("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == "" || token == auth {
		c.AbortWithStatusJSON(http.StatusUnauthorized, response{
			Code:    errs.CodeInvalidParams,
			Message: "missing token",
		})
		return
	}
	c.Set("user_id", token)
	c.Next()
}

func userID(c *gin.Context) string {
	return c.GetString("user_id")
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, response{Code: errs.CodeSuccess, Message: "success", Data: data})
}

func fail(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, response{Code: code, Message: message})
}

func (s *Server) listConversations(c *gin.Context) {
	uid := userID(c)

	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]model.Conversation, 0)
	for _, conv := range s.conversations {
		view, ok := conv.viewFor(uid)
		if !ok {
			continue
		}
		list = append(list, view)
	}

	ok(c, list)
}

func (s *Server) listMessages(c *gin.Context) {
	uid := userID(c)
	convID := c.Param("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[convID]
	if !exists || !conv.hasParticipant(uid) {
		fail(c, errs.CodeInvalidParams, "conversation not found")
		return
	}

	list := make([]model.Message, len(conv.messages))
	copy(list, conv.messages)
	for i := range list {
		list[i].IsMine = list[i].SenderID == uid
	}

	ok(c, list)
}

func (s *Server) markConversationRead(c *gin.Context) {
	uid := userID(c)
	convID := c.Param("id")

	s.mu.Lock()
	conv, exists := s.conversations[convID]
	if exists {
		conv.unread[uid] = 0
	}
	var lastID string
	if exists && len(conv.messages) > 0 {
		lastID = conv.messages[len(conv.messages)-1].ID
	}
	s.mu.Unlock()

	if !exists {
		fail(c, errs.CodeInvalidParams, "conversation not found")
		return
	}

	// 已读回执推给房间里的对端
	if lastID != "" {
		s.hub.emitToRoom(convID, protocol.EventMessageRead, protocol.MessageRead{
			ConversationID: convID,
			MessageID:      lastID,
		})
	}

	ok(c, nil)
}

func (s *Server) listNotifications(c *gin.Context) {
	uid := userID(c)
	onlyUnread := c.Query("unread") == "true"

	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]model.Notification, 0)
	for _, n := range s.notifications[uid] {
		if onlyUnread && n.IsRead {
			continue
		}
		list = append(list, n)
	}

	ok(c, list)
}

func (s *Server) unreadCount(c *gin.Context) {
	uid := userID(c)

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, n := range s.notifications[uid] {
		if !n.IsRead {
			count++
		}
	}

	ok(c, gin.H{"count": count})
}

func (s *Server) markNotificationRead(c *gin.Context) {
	uid := userID(c)
	id := c.Param("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notifications[uid] {
		if s.notifications[uid][i].ID == id {
			s.notifications[uid][i].IsRead = true
			ok(c, nil)
			return
		}
	}

	fail(c, errs.CodeInvalidParams, "notification not found")
}

func (s *Server) markAllNotificationsRead(c *gin.Context) {
	uid := userID(c)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notifications[uid] {
		s.notifications[uid][i].IsRead = true
	}

	ok(c, nil)
}

func (s *Server) deleteNotification(c *gin.Context) {
	uid := userID(c)
	id := c.Param("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.notifications[uid]
	for i := range list {
		if list[i].ID == id {
			s.notifications[uid] = append(list[:i], list[i+1:]...)
			ok(c, nil)
			return
		}
	}

	fail(c, errs.CodeInvalidParams, "notification not found")
}

// ============== 推送通道 ==============

func (s *Server) serveWS(c *gin.Context) {
	auth := c.GetHeader("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == "" || token == auth {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &wsClient{
		userID: token,
		conn:   conn,
		send:   make(chan []byte, 64),
		rooms:  make(map[string]bool),
	}
	s.hub.register(client)

	go s.writePump(client)
	go s.readPump(client)
}

func (s *Server) writePump(client *wsClient) {
	for data := range client.send {
		if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (s *Server) readPump(client *wsClient) {
	defer func() {
		s.hub.unregister(client)
		client.conn.Close()
	}()

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			s.logger.Warn("Malformed command frame", "error", err)
			continue
		}

		s.handleCommand(client, env)
	}
}

// handleCommand 处理上行命令帧
func (s *Server) handleCommand(client *wsClient, env *protocol.Envelope) {
	switch env.Event {
	case protocol.CommandJoinRoom:
		var cmd protocol.RoomCommand
		if json.Unmarshal(env.Payload, &cmd) == nil {
			s.hub.joinRoom(client, cmd.ConversationID)
		}

	case protocol.CommandLeaveRoom:
		var cmd protocol.RoomCommand
		if json.Unmarshal(env.Payload, &cmd) == nil {
			s.hub.leaveRoom(client, cmd.ConversationID)
		}

	case protocol.CommandSendMessage:
		var cmd protocol.SendMessage
		if json.Unmarshal(env.Payload, &cmd) == nil {
			s.acceptMessage(client.userID, cmd)
		}

	case protocol.CommandSendTyping:
		var cmd protocol.SendTyping
		if json.Unmarshal(env.Payload, &cmd) == nil {
			s.hub.emitToRoom(cmd.ConversationID, protocol.EventUserTyping, protocol.UserTyping{
				ConversationID: cmd.ConversationID,
				UserID:         client.userID,
				IsTyping:       cmd.IsTyping,
			})
		}

	default:
		s.logger.Warn("Unknown command", "event", env.Event)
	}
}

// acceptMessage 接收消息：落库、回显到房间、通知所有参与者
func (s *Server) acceptMessage(senderID string, cmd protocol.SendMessage) {
	now := time.Now().UnixMilli()

	s.mu.Lock()
	conv, exists := s.conversations[cmd.ConversationID]
	if !exists || !conv.hasParticipant(senderID) {
		s.mu.Unlock()
		return
	}

	s.msgSeq++
	id := fmt.Sprintf("msg-%d", s.msgSeq)
	conv.messages = append(conv.messages, model.Message{
		ID:             id,
		ConversationID: cmd.ConversationID,
		SenderID:       senderID,
		Content:        cmd.Content,
		Timestamp:      now,
		State:          model.DeliverySent,
	})
	conv.lastActivity = now

	recipients := make([]string, 0, 1)
	for _, p := range conv.participants {
		if p.ID != senderID {
			conv.unread[p.ID]++
			recipients = append(recipients, p.ID)
		}
	}
	s.mu.Unlock()

	// 完整消息回显到房间（含发送方，用于乐观条目替换）
	s.hub.emitToRoom(cmd.ConversationID, protocol.EventNewMessage, protocol.NewMessage{
		ID:             id,
		ClientMsgID:    cmd.ClientMsgID,
		ConversationID: cmd.ConversationID,
		SenderID:       senderID,
		Content:        cmd.Content,
		Timestamp:      now,
	})

	// 预览通知扇出到接收方的会话列表
	for _, uid := range recipients {
		s.hub.emitToUser(uid, protocol.EventMessageNotification, protocol.MessageNotification{
			ConversationID: cmd.ConversationID,
			SenderID:       senderID,
			Preview:        cmd.Content,
			Timestamp:      now,
		})
	}
}

// viewFor 计算某用户视角的会话视图
func (cv *conversation) viewFor(uid string) (model.Conversation, bool) {
	var peer model.Peer
	found := false
	for _, p := range cv.participants {
		if p.ID == uid {
			found = true
		} else {
			peer = p
		}
	}
	if !found {
		return model.Conversation{}, false
	}

	view := model.Conversation{
		ID:           cv.id,
		Peer:         peer,
		UnreadCount:  cv.unread[uid],
		LastActivity: cv.lastActivity,
	}
	if len(cv.messages) > 0 {
		last := cv.messages[len(cv.messages)-1]
		view.LastMessage = &model.LastMessage{
			Content:   last.Content,
			Timestamp: last.Timestamp,
			IsMine:    last.SenderID == uid,
		}
	}
	return view, true
}

func (cv *conversation) hasParticipant(uid string) bool {
	for _, p := range cv.participants {
		if p.ID == uid {
			return true
		}
	}
	return false
}
