package ws

import (
	"log"
	"time"

	"tapduel/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 25 * time.Second
)

// Client - одно websocket соединение аутентифицированного игрока
type Client struct {
	ID     string // socket id
	UserID int64
	Name   string

	Conn *websocket.Conn
	Send chan []byte

	hub  *Hub
	Done chan struct{}
}

func NewClient(userID int64, name string, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		Name:   name,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		hub:    hub,
		Done:   make(chan struct{}),
	}
}

func (c *Client) Run() {
	metrics.WSConnections.Inc()
	go c.writePump()
	go c.readPump()

	c.hub.register(c)
	<-c.Done
}

// read
func (c *Client) readPump() {
	defer func() {
		c.hub.onDisconnect(c)
		metrics.WSConnections.Dec()
		_ = c.Conn.Close()
		close(c.Done)
	}()

	c.Conn.SetReadLimit(4096)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Client.readPump: пользователь=%d ошибка чтения: %v", c.UserID, err)
			}
			break
		}
		c.hub.HandleMessage(c, msg)
	}
}

// write
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("Client.writePump: пользователь=%d ошибка записи: %v", c.UserID, err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// неблокирующая отправка: переполненный канал медленного клиента не
// должен останавливать игровой цикл
func (c *Client) enqueue(msg []byte) {
	select {
	case c.Send <- msg:
	default:
		log.Printf("Client.enqueue: пользователь=%d канал переполнен, сообщение отброшено", c.UserID)
	}
}
