package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"LiveBoard/internal/core"
	"LiveBoard/internal/protocol"
	"LiveBoard/internal/state"

	"github.com/apex/log"
	"github.com/gorilla/websocket"
)

// ServerConfig contains the relay listener configuration.
type ServerConfig struct {
	Bind string
	Port uint16
}

func (cfg ServerConfig) URL() *url.URL {
	return &url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(cfg.Bind, strconv.FormatUint(uint64(cfg.Port), 10)),
		Path:   "/ws",
	}
}

// Server exposes a relay over websockets plus /healthz and /stats.
type Server struct {
	relay    *Relay
	server   http.Server
	upgrader websocket.Upgrader
	log      *log.Entry
}

func NewServer(r *Relay, cfg ServerConfig) *Server {
	s := &Server{
		relay:  r,
		server: http.Server{Addr: cfg.URL().Host},
		upgrader: websocket.Upgrader{
			WriteBufferPool: &sync.Pool{},
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: core.Logger("relay-server"),
	}
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	s.server.Handler = mux
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", handleHealthz)
	mux.HandleFunc("/stats", s.handleStats)
}

// Run serves until Close is called.
func (s *Server) Run() error {
	s.log.WithField("addr", s.server.Addr).Info("listening")
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay listener: %w", err)
	}
	return nil
}

func (s *Server) Close() {
	s.log.Info("stopping listener")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.server.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	peer := newWSPeer(c, s.log.WithField("remote", c.RemoteAddr().String()))
	session := s.relay.Attach(peer)
	peer.log.Info("accepting websocket session")

	go peer.writeLoop()
	peer.readLoop(session)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.relay.Stats())
}

const (
	sendQueue    = 256
	writeTimeout = 5 * time.Second
	maxMessage   = 4 << 20
)

// wsPeer is the relay's end of a websocket. Outbound messages go through a
// queue drained by writeLoop; a peer that cannot keep up is dropped.
type wsPeer struct {
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
	log  *log.Entry
}

func newWSPeer(c *websocket.Conn, entry *log.Entry) *wsPeer {
	c.SetReadLimit(maxMessage)
	return &wsPeer{
		conn: c,
		out:  make(chan []byte, sendQueue),
		done: make(chan struct{}),
		log:  entry,
	}
}

func (p *wsPeer) Send(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return state.ErrConnectionLost
	default:
	}
	select {
	case p.out <- data:
		return nil
	default:
		p.Close()
		return fmt.Errorf("%w: send queue full", state.ErrConnectionLost)
	}
}

func (p *wsPeer) Close() error {
	p.once.Do(func() {
		close(p.done)
		p.conn.Close()
	})
	return nil
}

func (p *wsPeer) writeLoop() {
	for {
		select {
		case data := <-p.out:
			p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				p.log.WithError(err).Warn("unable to send on socket, closing")
				p.Close()
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *wsPeer) readLoop(session *Session) {
	defer session.Close()
	defer p.Close()

	for {
		mt, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				// gracefully closed
			} else if websocket.IsUnexpectedCloseError(err) {
				p.log.WithError(err).Info("websocket closed unexpectedly")
			} else {
				p.log.WithError(err).Debug("unable to read from websocket")
			}
			return
		}
		if mt != websocket.TextMessage {
			p.log.Warn("ignored non-text message")
			continue
		}
		m, err := protocol.Decode(data)
		if err != nil {
			session.reject(state.OpID{}, fmt.Errorf("%w: %v", protocol.ErrBadRequest, err))
			continue
		}
		session.Handle(context.Background(), m)
	}
}

type jsonResponse map[string]any

type errorResponse struct {
	Error string `json:"error"`
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(payload)
}
