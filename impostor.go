// Impostor room server
//
// Clients hold one websocket each and speak JSON frames of the form
// {"type", "id", "payload"}. Every frame is answered by an ack carrying the
// same id; room events are pushed as {"type", "data"}.
//
// Routes:
//   - /ws                 → websocket session
//   - /themes             → built-in theme catalog
//   - /room/:code/qr      → PNG QR code that opens the room

package main

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/Seednode/impostor/games/impostor"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 16 << 10
	sendBuffer     = 64
	qrSize         = 320
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client is one websocket connection. It satisfies impostor.Peer.
type client struct {
	id   string
	conn *websocket.Conn
	log  *zap.SugaredLogger

	send chan any
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn, log *zap.SugaredLogger) *client {
	id := uuid.NewString()

	return &client{
		id:   id,
		conn: conn,
		log:  log.With("conn", id),
		send: make(chan any, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *client) ID() string {
	return c.id
}

// Send queues v without blocking. A client whose queue is full is too slow
// to keep up and gets disconnected.
func (c *client) Send(v any) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- v:
	case <-c.done:
	default:
		c.log.Warnw("send queue full, dropping connection")
		c.close()
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) readPump(games *impostor.Manager) {
	defer func() {
		games.Disconnect(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debugw("read failed", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		id, req, err := impostor.DecodeRequest(data)
		if err != nil {
			c.Send(impostor.AckError(id, err))
			continue
		}

		c.Send(games.Handle(c, id, req))
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Debugw("write failed", "error", err)
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

func serveWS(log *zap.SugaredLogger, games *impostor.Manager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debugw("upgrade failed", "remote", realIP(r), "error", err)
			return
		}

		c := newClient(conn, log)
		c.log.Infow("connected", "remote", realIP(r))

		go c.writePump()
		c.readPump(games)

		c.log.Infow("disconnected", "remote", realIP(r))
	}
}

func serveThemes(cfg *Config, games *impostor.Manager, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		data, err := json.Marshal(games.Words().Themes())
		if err != nil {
			http.Error(w, "theme catalog unavailable", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		securityHeaders(cfg, w)

		_, err = w.Write(data)
		if err != nil {
			errs <- err

			return
		}
	}
}

// roomURL is the link a QR code for code points at.
func roomURL(cfg *Config, r *http.Request, code string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	u := url.URL{
		Scheme:   scheme,
		Host:     r.Host,
		Path:     cfg.prefix + "/",
		RawQuery: url.Values{"room": {code}}.Encode(),
	}
	return u.String()
}

func serveQR(cfg *Config, games *impostor.Manager, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		room, err := games.Registry().Resolve(ps.ByName("code"))
		if err != nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		png, err := qrcode.Encode(roomURL(cfg, r, room.Code()), qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)

		_, err = w.Write(png)
		if err != nil {
			errs <- err

			return
		}
	}
}

func registerImpostorGame(cfg *Config, log *zap.SugaredLogger, games *impostor.Manager, mux *httprouter.Router, errs chan<- error) {
	mux.GET(cfg.prefix+"/ws", serveWS(log.Named("ws"), games))

	mux.GET(cfg.prefix+"/themes", serveThemes(cfg, games, errs))

	mux.GET(cfg.prefix+"/room/:code/qr", serveQR(cfg, games, errs))
}
