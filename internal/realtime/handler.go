package realtime

import (
	"net/http"

	"BookNet-backend/internal/platform/auth"

	"github.com/gin-gonic/gin"
	"golang.org/x/net/websocket"
)

type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// RegisterRoutes は認証済みグループに載せること（?access_token= で認証）
func RegisterRoutes(r gin.IRoutes, hub *Hub) {
	h := NewHandler(hub)
	r.GET("/ws", h.HandleWebSocket)
}

// 接続した利用者は自分宛てのチャンネルだけを購読する
func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID, ok := auth.ActorID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	websocket.Handler(func(conn *websocket.Conn) {
		client := NewClient(conn)
		h.hub.Subscribe(UserChannel(userID), client)
		go h.writer(client)
		h.reader(client)
	}).ServeHTTP(c.Writer, c.Request)
}

// クライアントからのメッセージは読み捨て。切断検知のためだけに読む
func (h *Handler) reader(client *Client) {
	defer func() {
		h.hub.UnsubscribeAll(client)
		client.close()
		_ = client.conn.Close()
	}()

	for {
		var raw string
		if err := websocket.Message.Receive(client.conn, &raw); err != nil {
			return
		}
	}
}

func (h *Handler) writer(client *Client) {
	for payload := range client.out {
		if err := websocket.Message.Send(client.conn, string(payload)); err != nil {
			return
		}
	}
}
