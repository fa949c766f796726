package client_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sudooom.im.client/internal/client"
	"sudooom.im.client/internal/config"
	"sudooom.im.client/internal/devserver"
	"sudooom.im.client/internal/model"
	"sudooom.im.client/internal/protocol"
)

var (
	alice = model.Peer{ID: "alice", Nickname: "爱丽丝"}
	bob   = model.Peer{ID: "bob", Nickname: "鲍勃"}
)

func newTestClient(t *testing.T, srv *devserver.Server, userID string) *client.Client {
	t.Helper()

	cfg := config.Default()
	cfg.API.BaseURL = srv.BaseURL()
	cfg.API.Token = userID // 替身后端: 令牌即用户ID
	cfg.Channel.URL = srv.ChannelURL()
	cfg.Channel.ReconnectWait = 50 * time.Millisecond
	cfg.Timeouts.TypingQuiet = time.Second

	c := client.New(cfg, userID, slog.Default())
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Close)
	return c
}

// TestConversationSnapshot 初始快照: 会话列表、对端信息、未读数
func TestConversationSnapshot(t *testing.T) {
	srv := devserver.New(slog.Default())
	defer srv.Close()

	srv.SeedConversation("conv-1", alice, bob, 100)
	srv.SeedMessage("conv-1", "bob", "你好", 200)
	srv.SeedMessage("conv-1", "bob", "在吗", 300)

	c := newTestClient(t, srv, "alice")
	require.NoError(t, c.Registry().LoadInitial(context.Background()))

	list := c.Registry().List()
	require.Len(t, list, 1)
	require.Equal(t, "conv-1", list[0].ID)
	require.Equal(t, "bob", list[0].Peer.ID)
	require.Equal(t, 2, list[0].UnreadCount)
	require.NotNil(t, list[0].LastMessage)
	require.Equal(t, "在吗", list[0].LastMessage.Content)
	require.False(t, list[0].LastMessage.IsMine)
}

// TestEndToEndSend 双端收发: 乐观条目替换、对端接收、已读回执
func TestEndToEndSend(t *testing.T) {
	srv := devserver.New(slog.Default())
	defer srv.Close()

	srv.SeedConversation("conv-1", alice, bob, 100)

	sender := newTestClient(t, srv, "alice")
	receiver := newTestClient(t, srv, "bob")

	senderCtrl, err := sender.OpenConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	receiverCtrl, err := receiver.OpenConversation(context.Background(), "conv-1")
	require.NoError(t, err)

	sent, err := senderCtrl.Send("你好鲍勃")
	require.NoError(t, err)
	require.Equal(t, model.DeliveryPending, sent.State)

	// 发送方: 回显替换乐观条目, 单条 sent 消息
	require.Eventually(t, func() bool {
		list := senderCtrl.Messages()
		return len(list) == 1 && list[0].ID != "" && list[0].State != model.DeliveryPending
	}, 3*time.Second, 20*time.Millisecond, "发送方乐观条目未被回显替换")

	list := senderCtrl.Messages()
	require.Equal(t, sent.LocalKey, list[0].LocalKey)
	require.True(t, list[0].IsMine)

	// 接收方: 完整消息到达
	require.Eventually(t, func() bool {
		list := receiverCtrl.Messages()
		return len(list) == 1 && list[0].Content == "你好鲍勃"
	}, 3*time.Second, 20*time.Millisecond, "接收方未收到消息")
	require.False(t, receiverCtrl.Messages()[0].IsMine)

	// 接收方查看中即已读, 回执推进发送方状态机 sent -> read
	require.Eventually(t, func() bool {
		return senderCtrl.Messages()[0].State == model.DeliveryRead
	}, 3*time.Second, 20*time.Millisecond, "发送方未收到已读回执")
}

// TestMessageNotificationUpdatesList 未打开会话的接收方: 预览通知驱动列表
func TestMessageNotificationUpdatesList(t *testing.T) {
	srv := devserver.New(slog.Default())
	defer srv.Close()

	srv.SeedConversation("conv-1", alice, bob, 100)
	srv.SeedConversation("conv-2", model.Peer{ID: "carol", Nickname: "卡罗尔"}, bob, 500)

	sender := newTestClient(t, srv, "alice")
	receiver := newTestClient(t, srv, "bob")

	require.NoError(t, receiver.Registry().LoadInitial(context.Background()))
	require.Equal(t, "conv-2", receiver.Registry().List()[0].ID)

	senderCtrl, err := sender.OpenConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	_, err = senderCtrl.Send("新消息")
	require.NoError(t, err)

	// 预览通知: 未读+1、预览更新、会话顶到首位
	require.Eventually(t, func() bool {
		list := receiver.Registry().List()
		return list[0].ID == "conv-1" && list[0].UnreadCount == 1
	}, 3*time.Second, 20*time.Millisecond, "接收方会话列表未更新")

	top := receiver.Registry().List()[0]
	require.NotNil(t, top.LastMessage)
	require.Equal(t, "新消息", top.LastMessage.Content)
	require.False(t, top.LastMessage.IsMine)

	// 发送方自己的列表不因本方消息计未读
	require.NoError(t, sender.Registry().LoadInitial(context.Background()))
	conv, ok := sender.Registry().Get("conv-1")
	require.True(t, ok)
	require.Equal(t, 0, conv.UnreadCount)
}

// TestTypingIndicator 输入指示端到端: start 传播与静默自动收敛
func TestTypingIndicator(t *testing.T) {
	srv := devserver.New(slog.Default())
	defer srv.Close()

	srv.SeedConversation("conv-1", alice, bob, 100)

	sender := newTestClient(t, srv, "alice")
	receiver := newTestClient(t, srv, "bob")

	senderCtrl, err := sender.OpenConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	receiverCtrl, err := receiver.OpenConversation(context.Background(), "conv-1")
	require.NoError(t, err)

	senderCtrl.NotifyTyping(true)

	require.Eventually(t, func() bool {
		return receiverCtrl.PeerTyping()
	}, 3*time.Second, 20*time.Millisecond, "接收方未看到输入指示")

	// 静默窗口到期: 发送方自动补发 stop, 接收方标志清除
	require.Eventually(t, func() bool {
		return !receiverCtrl.PeerTyping()
	}, 5*time.Second, 50*time.Millisecond, "输入指示未自动清除")
}

// TestNotificationFlow 通知聚合: 快照、推送失效回源、全部已读
func TestNotificationFlow(t *testing.T) {
	srv := devserver.New(slog.Default())
	defer srv.Close()

	srv.SeedNotification("alice", model.Notification{
		ID: "n1", Type: model.NotificationProfileView, Title: "有人看过你", CreatedAt: 100,
	})

	c := newTestClient(t, srv, "alice")

	count, err := c.Notifications().LoadUnreadCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)

	// 服务端产生新通知并推送变更信号
	srv.SeedNotification("alice", model.Notification{
		ID: "n2", Type: model.NotificationNewUser, Title: "新用户加入", CreatedAt: 200,
	})
	srv.Emit("alice", protocol.EventNotificationPush, nil)

	require.Eventually(t, func() bool {
		return c.Notifications().UnreadCount() == 2
	}, 3*time.Second, 20*time.Millisecond, "推送信号未触发回源")

	// 全部已读落到服务端
	_, err = c.Notifications().LoadRecent(context.Background(), 10, false)
	require.NoError(t, err)
	require.NoError(t, c.Notifications().MarkAllRead(context.Background()))
	require.Equal(t, 0, c.Notifications().UnreadCount())

	count, err = c.Notifications().LoadUnreadCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

// TestSharedControllerAcrossViews 同一会话的多个视图共享控制器
func TestSharedControllerAcrossViews(t *testing.T) {
	srv := devserver.New(slog.Default())
	defer srv.Close()

	srv.SeedConversation("conv-1", alice, bob, 100)

	c := newTestClient(t, srv, "alice")

	ctrl1, err := c.OpenConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	ctrl2, err := c.OpenConversation(context.Background(), "conv-1")
	require.NoError(t, err)

	require.Same(t, ctrl1, ctrl2)
	require.Equal(t, 2, c.Channel().RoomRefCount("conv-1"))

	c.CloseConversation("conv-1")
	require.Equal(t, 1, c.Channel().RoomRefCount("conv-1"))

	// 末个视图关闭后控制器拒绝发送
	c.CloseConversation("conv-1")
	require.Equal(t, 0, c.Channel().RoomRefCount("conv-1"))
	_, err = ctrl1.Send("你好")
	require.Error(t, err)
}

// TestOpenConversationClearsUnread 打开会话本地清零未读
func TestOpenConversationClearsUnread(t *testing.T) {
	srv := devserver.New(slog.Default())
	defer srv.Close()

	srv.SeedConversation("conv-1", alice, bob, 100)
	srv.SeedMessage("conv-1", "bob", "你好", 200)

	c := newTestClient(t, srv, "alice")
	require.NoError(t, c.Registry().LoadInitial(context.Background()))
	require.Equal(t, 1, c.Registry().List()[0].UnreadCount)

	ctrl, err := c.OpenConversation(context.Background(), "conv-1")
	require.NoError(t, err)

	conv, ok := c.Registry().Get("conv-1")
	require.True(t, ok)
	require.Equal(t, 0, conv.UnreadCount)

	// 历史消息已加载
	list := ctrl.Messages()
	require.Len(t, list, 1)
	require.Equal(t, "你好", list[0].Content)
	require.False(t, list[0].IsMine)
}
