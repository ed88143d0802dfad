package session

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"mygame/netsim/internal/wire"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const (
	wsReadDeadline  = 60 * time.Second
	wsWriteDeadline = 10 * time.Second
	wsPingPeriod    = 30 * time.Second
)

type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) WritePacket(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
	return c.ws.WriteMessage(websocket.BinaryMessage, b)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

// NewRouter serves the fallback websocket transport and a liveness probe.
func NewRouter(room *Room) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	r.GET("/ws", room.HandleWebSocket)
	r.GET("/healthz", func(c *gin.Context) {
		st := room.Status()
		c.JSON(http.StatusOK, gin.H{"room": st.Room, "tick": st.Tick, "peers": st.Peers})
	})
	return r
}

// HandleWebSocket upgrades the request and serves one peer until either
// side closes.
func (r *Room) HandleWebSocket(c *gin.Context) {
	if id := c.Query("room_id"); id != "" && id != r.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown room"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Println("Upgrade failed:", err)
		return
	}

	peer := NewPeer(&wsConn{ws: ws}, r.opts.SendQueue)
	defer func() {
		r.Leave(peer.ID)
		peer.Close()
	}()

	ws.SetReadDeadline(time.Now().Add(wsReadDeadline))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(wsReadDeadline))
		return nil
	})

	pingTicker := time.NewTicker(wsPingPeriod)
	defer pingTicker.Stop()

	messageChan := make(chan []byte)
	doneChan := make(chan struct{})

	go func() {
		defer close(doneChan)
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("peer %s: read: %v", peer.ID, err)
				}
				return
			}
			select {
			case messageChan <- data:
			case <-peer.Done():
				return
			}
		}
	}()

	ctx := c.Request.Context()
	for {
		select {
		case <-pingTicker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteDeadline)); err != nil {
				log.Printf("peer %s: ping: %v", peer.ID, err)
				return
			}

		case data := <-messageChan:
			ws.SetReadDeadline(time.Now().Add(wsReadDeadline))
			if err := r.dispatch(ctx, peer, data); err != nil {
				log.Printf("peer %s: %v", peer.ID, err)
				reason := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
				ws.WriteControl(websocket.CloseMessage, reason, time.Now().Add(wsWriteDeadline))
				return
			}

		case <-peer.Done():
			return

		case <-doneChan:
			return
		}
	}
}

// dispatch routes one datagram from peer. An error means the peer must be
// disconnected; undecodable packets are ignored.
func (r *Room) dispatch(ctx context.Context, peer *Peer, data []byte) error {
	pkt, err := wire.Unmarshal(data)
	if err != nil {
		return nil
	}
	return r.handle(ctx, peer, pkt)
}

func (r *Room) handle(ctx context.Context, peer *Peer, pkt *wire.Packet) error {
	switch {
	case pkt.Join != nil:
		err := r.Register(ctx, peer, *pkt.Join)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case pkt.Input != nil:
		r.Submit(peer, *pkt.Input)
	case pkt.Hello != nil:
		if b, err := wire.Marshal(pkt); err == nil {
			peer.Send(b)
		}
	}
	return nil
}
