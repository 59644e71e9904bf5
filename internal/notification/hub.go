package notification

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nao1215/tenantdesk/pkg/logger"
)

// 接続のタイミング設定。
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4 * 1024
	sendBufferSize = 64
)

// pushType はWebSocketで送るメッセージの種類。
type pushType string

const (
	pushTypeConnected    pushType = "connected"
	pushTypeNotification pushType = "notification"
)

// pushMessage はWebSocketで送るメッセージ。
type pushMessage struct {
	Type         pushType      `json:"type"`
	Notification *Notification `json:"notification,omitempty"`
	// Sound はクライアントが通知音を鳴らすべきか。
	Sound bool `json:"sound,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// オリジンの検証はgatewayのCORS設定で行う。
	CheckOrigin:      func(*http.Request) bool { return true },
	HandshakeTimeout: writeWait,
}

// Hub はユーザーごとのWebSocket接続を管理する。
// 送信バッファが溢れた接続は切断する。
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	log     *logger.Logger
}

// client は1本のWebSocket接続。
type client struct {
	hub    *Hub
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// NewHub は新しいHubを生成する。
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
		log:     log,
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
}

// unregister は接続を登録解除し、送信チャネルを閉じる。既に解除済みの場合は何もしない。
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
}

// Send はユーザーの全接続へpayloadを送り、送信できた接続数を返す。
func (h *Hub) Send(userID string, payload []byte) int {
	var slow []*client
	delivered := 0

	h.mu.RLock()
	for c := range h.clients[userID] {
		select {
		case c.send <- payload:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("送信が滞留した接続を切断します", "user_id", userID)
		h.unregister(c)
	}
	return delivered
}

// Connections はユーザーの接続数を返す。
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close は全ての接続を切断する。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, set := range h.clients {
		for c := range set {
			close(c.send)
		}
		delete(h.clients, userID)
	}
}

// Serve はHTTP接続をWebSocketにアップグレードし、userID宛ての通知を配信する。
// 読み書きはバックグラウンドのgoroutineで行い、アップグレード後すぐに戻る。
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string, hello []byte) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{
		hub:    h,
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
	}
	if len(hello) > 0 {
		c.send <- hello
	}
	h.register(c)

	go c.writePump()
	go c.readPump()
	return nil
}

// readPump はクライアントからのメッセージを読み捨て、pongで接続の生存を確認する。
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("WebSocket接続が切断されました", "user_id", c.userID, "error", err)
			}
			return
		}
	}
}

// writePump は送信チャネルのメッセージを書き込み、定期的にpingを送る。
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
