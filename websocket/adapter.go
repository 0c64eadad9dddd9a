package websocket

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"watchparty-sync-server/domain"
	"watchparty-sync-server/metrics"
)

type Config struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	SendQueue      int
}

func DefaultConfig() Config {
	return Config{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 4096,
		SendQueue:      256,
	}
}

func (c Config) pingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

// Conn adapts a gorilla websocket to domain.Connection. Inbound messages are
// handled one at a time on the read goroutine; outbound messages go through a
// bounded queue drained by the write goroutine.
type Conn struct {
	id      string
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	session *domain.Session
	handler domain.MessageHandler
	cfg     Config
}

func NewConn(id string, ws *websocket.Conn, h domain.MessageHandler, cfg Config) *Conn {
	return &Conn{
		id:      id,
		ws:      ws,
		send:    make(chan []byte, cfg.SendQueue),
		done:    make(chan struct{}),
		session: domain.NewSession(),
		handler: h,
		cfg:     cfg,
	}
}

func (c *Conn) ID() string                { return c.id }
func (c *Conn) Session() *domain.Session { return c.session }

func (c *Conn) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Send enqueues data without blocking. A closed connection or a full queue
// rejects the message.
func (c *Conn) Send(data []byte) error {
	if !c.Alive() {
		return domain.ErrConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return domain.ErrSendQueueFull
	}
}

func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		deadline := time.Now().Add(c.cfg.WriteWait)
		c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) Start() {
	metrics.Connections.Inc()
	go c.writePump()
	go c.readPump()
}

func (c *Conn) readPump() {
	defer func() {
		c.handler.Disconnect(c)
		c.Close()
		metrics.Connections.Dec()
		slog.Info("client disconnected", "clientId", c.id)
	}()

	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				slog.Error("read error", "clientId", c.id, "error", err)
			}
			return
		}

		c.handler.Handle(c, data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Debug("write error", "clientId", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
