package notification

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nao1215/tenantdesk/pkg/logger"
)

func TestHubDropsSlowClient(t *testing.T) {
	t.Parallel()
	h := NewHub(logger.NewNop())

	slow := &client{hub: h, userID: "u1", send: make(chan []byte, 1)}
	fast := &client{hub: h, userID: "u1", send: make(chan []byte, 4)}
	h.register(slow)
	h.register(fast)

	if got := h.Send("u1", []byte("1")); got != 2 {
		t.Fatalf("送信数が不正: got=%d", got)
	}
	if got := h.Send("u1", []byte("2")); got != 1 {
		t.Fatalf("送信数が不正: got=%d", got)
	}
	if got := h.Connections("u1"); got != 1 {
		t.Errorf("滞留した接続が切断されていない: connections=%d", got)
	}
	if _, ok := <-slow.send; !ok {
		t.Fatal("バッファ済みのメッセージが失われた")
	}
	if _, ok := <-slow.send; ok {
		t.Error("切断した接続の送信チャネルが閉じられていない")
	}

	h.unregister(slow)
	h.Close()
	if got := h.Connections("u1"); got != 0 {
		t.Errorf("Close後に接続が残っている: %d", got)
	}
	if got := h.Send("u2", []byte("x")); got != 0 {
		t.Errorf("接続のないユーザーへの送信数が不正: %d", got)
	}
}

func TestStreamDeliversNotifications(t *testing.T) {
	t.Parallel()
	s, _ := setupTestServer(t)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/notifications/stream?access_token=" + userToken(t, "u1")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("WebSocketの接続に失敗: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	read := func() pushMessage {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("メッセージの受信に失敗: %v", err)
		}
		var msg pushMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("メッセージのデコードに失敗: %v", err)
		}
		return msg
	}

	if msg := read(); msg.Type != pushTypeConnected {
		t.Fatalf("最初のメッセージが不正: %+v", msg)
	}

	n, _, err := s.svc.Create(context.Background(), Input{UserID: "u1", Category: CategorySystem, Title: "Bonjour", Message: "m"})
	if err != nil {
		t.Fatalf("作成に失敗: %v", err)
	}
	msg := read()
	if msg.Type != pushTypeNotification || msg.Notification == nil || msg.Notification.ID != n.ID {
		t.Errorf("通知メッセージが不正: %+v", msg)
	}
}
