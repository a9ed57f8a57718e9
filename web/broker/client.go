package broker

import (
	"sync"
	"time"

	log "github.com/activeshadow/libminimega/minilog"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 512
)

// Client is one connected WebSocket subscriber, bound to the user it
// authenticated as.
type Client struct {
	ownerID string
	conn    *websocket.Conn

	publish chan []byte
	done    chan struct{}
	once    sync.Once
}

func NewClient(ownerID string, conn *websocket.Conn) *Client {
	return &Client{
		ownerID: ownerID,
		conn:    conn,
		publish: make(chan []byte, 256),
		done:    make(chan struct{}),
	}
}

func (this *Client) Go() {
	select {
	case register <- this:
	case <-stopped:
		this.Stop()
		return
	}

	go this.write()
	go this.read()
}

func (this *Client) Stop() {
	this.once.Do(func() {
		close(this.done)
		this.conn.Close()
	})
}

// read drains (and discards) client messages to keep the connection's pong
// handler serviced. The stream is one-way.
func (this *Client) read() {
	defer func() {
		select {
		case unregister <- this:
		case <-stopped:
		}
		this.Stop()
	}()

	this.conn.SetReadLimit(maxMsgSize)
	this.conn.SetReadDeadline(time.Now().Add(pongWait))

	this.conn.SetPongHandler(func(string) error {
		this.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := this.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug("reading from WebSocket client: %v", err)
			}

			return
		}
	}
}

func (this *Client) write() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		this.Stop()
	}()

	for {
		select {
		case <-this.done:
			return
		case msg := <-this.publish:
			this.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := this.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			this.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := this.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
