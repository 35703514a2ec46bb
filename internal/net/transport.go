package net

import (
	"context"
	"fmt"
	"sync"
	"time"

	"LiveBoard/internal/core"
	"LiveBoard/internal/protocol"
	"LiveBoard/internal/state"

	"github.com/apex/log"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// RedialConfig bounds how fast a lost relay connection is retried.
type RedialConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRedialConfig() RedialConfig {
	return RedialConfig{InitialInterval: 250 * time.Millisecond, MaxInterval: 8 * time.Second}
}

// WSLink is the client end of the relay websocket. It implements
// protocol.Link and redials with backoff whenever the connection drops.
type WSLink struct {
	url    string
	redial RedialConfig
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn

	events chan protocol.Event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	log *log.Entry
}

// DialRelay connects to the relay at url. The first attempt is made right
// away and its failure is returned; later drops are redialed in the
// background until Close.
func DialRelay(ctx context.Context, url string, redial RedialConfig) (*WSLink, error) {
	l := &WSLink{
		url:    url,
		redial: redial,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		events: make(chan protocol.Event, 64),
		done:   make(chan struct{}),
		log:    core.Logger("net").WithField("relay", url),
	}
	conn, _, err := l.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	go l.run(conn)
	return l, nil
}

func (l *WSLink) Events() <-chan protocol.Event {
	return l.events
}

func (l *WSLink) Send(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return state.ErrConnectionLost
	}
	l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", state.ErrConnectionLost, err)
	}
	return nil
}

func (l *WSLink) Close() error {
	l.cancel()
	l.mu.Lock()
	if l.conn != nil {
		l.conn.Close()
	}
	l.mu.Unlock()
	<-l.done
	return nil
}

func (l *WSLink) run(conn *websocket.Conn) {
	defer close(l.done)
	defer close(l.events)
	for {
		if !l.setConn(conn) {
			conn.Close()
			return
		}
		l.emit(protocol.Event{Kind: protocol.EventConnected})
		err := l.read(conn)
		l.setConn(nil)
		conn.Close()
		if l.ctx.Err() != nil {
			return
		}
		l.log.WithError(err).Warn("relay connection lost")
		l.emit(protocol.Event{Kind: protocol.EventDisconnected, Err: fmt.Errorf("%w: %v", state.ErrConnectionLost, err)})

		conn, err = l.reconnect()
		if err != nil {
			return
		}
	}
}

func (l *WSLink) read(conn *websocket.Conn) error {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}
		m, err := protocol.Decode(data)
		if err != nil {
			l.log.WithError(err).Warn("dropping undecodable message")
			continue
		}
		l.emit(protocol.Event{Kind: protocol.EventMessage, Message: m})
	}
}

func (l *WSLink) reconnect() (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.redial.InitialInterval
	b.MaxInterval = l.redial.MaxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	var conn *websocket.Conn
	err := backoff.RetryNotify(func() error {
		c, _, err := l.dialer.DialContext(l.ctx, l.url, nil)
		if err != nil {
			if l.ctx.Err() != nil {
				return backoff.Permanent(l.ctx.Err())
			}
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(b, l.ctx), func(err error, wait time.Duration) {
		l.log.WithError(err).WithField("wait", wait).Debug("redial failed")
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("relay connection restored")
	return conn, nil
}

// setConn publishes conn for Send. It refuses a new connection once the
// link is closed.
func (l *WSLink) setConn(conn *websocket.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if conn != nil && l.ctx.Err() != nil {
		return false
	}
	l.conn = conn
	return true
}

func (l *WSLink) emit(ev protocol.Event) {
	select {
	case l.events <- ev:
	case <-l.ctx.Done():
	}
}
