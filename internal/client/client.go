package client

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"LiveBoard/internal/capture"
	"LiveBoard/internal/core"
	"LiveBoard/internal/protocol"
	"LiveBoard/internal/render"
	"LiveBoard/internal/state"
	"LiveBoard/internal/syncer"

	"github.com/apex/log"
)

var (
	ErrNotOpen   = errors.New("no board is open")
	ErrBoardOpen = errors.New("a board is already open")
)

// Dialer opens the relay channel for a board.
type Dialer func(ctx context.Context, boardID string) (protocol.Link, error)

// Callbacks are invoked on the client event loop. They must not call back
// into the Client synchronously.
type Callbacks struct {
	OnOperationApplied func(op state.Operation)
	OnPresenceChanged  func(participants []state.ParticipantState)
	OnStatus           func(status syncer.Phase, err error)
	OnFrame            func(dirty []render.Rect)
}

type Options struct {
	Participant      string
	DisplayName      string
	Width            int
	Height           int
	Capture          capture.Config
	Sync             syncer.Config
	PresenceThrottle time.Duration
	Heartbeat        time.Duration
	PresenceTimeout  time.Duration
	Tick             time.Duration // render and timer tick
}

func DefaultOptions(participant string) Options {
	return Options{
		Participant:      participant,
		Width:            1600,
		Height:           1000,
		Capture:          capture.DefaultConfig(),
		Sync:             syncer.DefaultConfig(),
		PresenceThrottle: 50 * time.Millisecond,
		Heartbeat:        3 * time.Second,
		PresenceTimeout:  10 * time.Second,
		Tick:             16 * time.Millisecond,
	}
}

// OptionsFromConfig maps the configuration file onto client options.
func OptionsFromConfig(cfg core.Config) Options {
	opts := DefaultOptions(cfg.Identity.ParticipantID)
	opts.DisplayName = cfg.Identity.DisplayName
	opts.Width = cfg.Board.Width
	opts.Height = cfg.Board.Height
	opts.Capture = capture.Config{
		MinInterval: cfg.Capture.MinInterval,
		MinDistance: cfg.Capture.MinDistance,
		Limits:      cfg.Board.Limits,
	}
	opts.Sync = syncer.Config{
		AckTimeout:      cfg.Sync.AckTimeout,
		SnapshotTimeout: cfg.Sync.SnapshotTimeout,
		MaxAttempts:     cfg.Sync.MaxAttempts,
		InitialBackoff:  cfg.Sync.InitialBackoff,
		MaxBackoff:      cfg.Sync.MaxBackoff,
	}
	opts.PresenceThrottle = cfg.Presence.Throttle
	opts.Heartbeat = cfg.Presence.Heartbeat
	opts.PresenceTimeout = cfg.Presence.Timeout
	return opts
}

type status struct {
	phase syncer.Phase
	err   error
}

// Client is the host-facing API of one participant. All board state lives
// on a single event loop goroutine; the methods below post work onto it.
type Client struct {
	opts      Options
	dial      Dialer
	callbacks Callbacks

	work   chan func(*session)
	frame  atomic.Pointer[image.RGBA]
	status atomic.Pointer[status]

	mu      sync.Mutex
	boardID string
	cancel  context.CancelFunc
	done    chan struct{}

	log *log.Entry
}

func New(opts Options, dial Dialer, callbacks Callbacks) *Client {
	if opts.Tick <= 0 {
		opts.Tick = 16 * time.Millisecond
	}
	c := &Client{
		opts:      opts,
		dial:      dial,
		callbacks: callbacks,
		work:      make(chan func(*session)),
		log:       core.Logger("client").WithField("participant", opts.Participant),
	}
	c.status.Store(&status{phase: syncer.PhaseIdle})
	return c
}

func (c *Client) Participant() string {
	return c.opts.Participant
}

// Limits returns the payload limits strokes are captured under.
func (c *Client) Limits() state.Limits {
	return c.opts.Capture.Limits
}

// BoardID returns the open board, or "" when none is open.
func (c *Client) BoardID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boardID
}

// OpenBoard dials the relay and starts the event loop. ctx bounds the dial
// only; the board stays open until CloseBoard.
func (c *Client) OpenBoard(ctx context.Context, boardID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return ErrBoardOpen
	}
	link, err := c.dial(ctx, boardID)
	if err != nil {
		return fmt.Errorf("open board %s: %w", boardID, err)
	}
	s := newSession(c, boardID, link)
	loop, cancel := context.WithCancel(context.Background())
	c.boardID = boardID
	c.cancel = cancel
	c.done = make(chan struct{})
	c.frame.Store(s.renderer.Frame())
	c.log.WithField("board", boardID).Info("board opened")
	go c.run(loop, s, c.done)
	return nil
}

// CloseBoard leaves the board and stops the event loop.
func (c *Client) CloseBoard() error {
	c.mu.Lock()
	cancel, done, boardID := c.cancel, c.done, c.boardID
	c.cancel, c.done, c.boardID = nil, nil, ""
	c.mu.Unlock()
	if done == nil {
		return ErrNotOpen
	}
	cancel()
	<-done
	c.report(syncer.PhaseIdle, nil)
	c.log.WithField("board", boardID).Info("board closed")
	return nil
}

// Frame returns the latest composed frame. The image must not be modified.
func (c *Client) Frame() *image.RGBA {
	return c.frame.Load()
}

// Status returns the synchronization phase and the error that caused it.
func (c *Client) Status() (syncer.Phase, error) {
	s := c.status.Load()
	return s.phase, s.err
}

func (c *Client) PointerDown(ev capture.PointerEvent) error {
	return c.post(func(s *session) { s.pointerDown(ev) })
}

func (c *Client) PointerMove(ev capture.PointerEvent) error {
	return c.post(func(s *session) { s.pointerMove(ev) })
}

func (c *Client) PointerUp(ev capture.PointerEvent) error {
	return c.post(func(s *session) { s.pointerUp(ev) })
}

func (c *Client) PointerLeave(ev capture.PointerEvent) error {
	return c.post(func(s *session) { s.pointerLeave(ev) })
}

func (c *Client) PointerCancel(pointerID int) error {
	return c.post(func(s *session) { s.pointerCancel(pointerID) })
}

// Hover moves the cursor shown to other participants.
func (c *Client) Hover(x, y float64) error {
	return c.post(func(s *session) { s.hover(x, y) })
}

func (c *Client) SetTool(ts state.ToolState) error {
	return c.call(func(s *session) error { return s.setTool(ts) })
}

func (c *Client) Tool() (state.ToolState, error) {
	var ts state.ToolState
	err := c.call(func(s *session) error {
		ts = s.capture.Tool()
		return nil
	})
	return ts, err
}

func (c *Client) Undo() error {
	return c.call(func(s *session) error { return s.undo() })
}

func (c *Client) Redo() error {
	return c.call(func(s *session) error { return s.redo() })
}

// UndoOp undoes one specific stroke of the local participant.
func (c *Client) UndoOp(target state.OpID) error {
	return c.call(func(s *session) error { return s.undoOp(target) })
}

func (c *Client) RedoOp(target state.OpID) error {
	return c.call(func(s *session) error { return s.redoOp(target) })
}

func (c *Client) Clear() error {
	return c.call(func(s *session) error { return s.clear() })
}

func (c *Client) PlaceText(at state.Point, text string) error {
	return c.call(func(s *session) error { return s.placeText(at, text) })
}

// Retry rejoins after a snapshot timeout.
func (c *Client) Retry() error {
	return c.post(func(s *session) { s.sync.Retry(time.Now()) })
}

// Operations returns the committed log.
func (c *Client) Operations() ([]state.Operation, error) {
	var ops []state.Operation
	err := c.call(func(s *session) error {
		ops = s.sync.Board().Operations()
		return nil
	})
	return ops, err
}

// Visible returns the effective visible set in z-order.
func (c *Client) Visible() ([]state.Operation, error) {
	var ops []state.Operation
	err := c.call(func(s *session) error {
		ops = s.sync.Board().Visible()
		return nil
	})
	return ops, err
}

// Pending returns local operations still waiting for their commit.
func (c *Client) Pending() ([]state.Operation, error) {
	var ops []state.Operation
	err := c.call(func(s *session) error {
		ops = s.sync.Pending()
		return nil
	})
	return ops, err
}

func (c *Client) Participants() ([]state.ParticipantState, error) {
	var out []state.ParticipantState
	err := c.call(func(s *session) error {
		out = s.participants()
		return nil
	})
	return out, err
}

// Checksum hashes the committed raster.
func (c *Client) Checksum() (uint64, error) {
	var sum uint64
	err := c.call(func(s *session) error {
		sum = s.renderer.Checksum()
		return nil
	})
	return sum, err
}

// Snapshot returns a copy of the committed raster.
func (c *Client) Snapshot() (*image.RGBA, error) {
	var img *image.RGBA
	err := c.call(func(s *session) error {
		img = s.renderer.Image()
		return nil
	})
	return img, err
}

func (c *Client) post(fn func(*session)) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return ErrNotOpen
	}
	select {
	case c.work <- fn:
		return nil
	case <-done:
		return ErrNotOpen
	}
}

// call runs fn on the event loop and waits for its result.
func (c *Client) call(fn func(*session) error) error {
	result := make(chan error, 1)
	if err := c.post(func(s *session) { result <- fn(s) }); err != nil {
		return err
	}
	return <-result
}

func (c *Client) run(ctx context.Context, s *session, done chan struct{}) {
	defer close(done)
	defer s.close()

	ticker := time.NewTicker(c.opts.Tick)
	defer ticker.Stop()
	events := s.link.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-c.work:
			fn(s)
		case ev, ok := <-events:
			if !ok {
				events = nil
				s.sync.Disconnected(time.Now(), state.ErrConnectionLost)
				continue
			}
			s.handleEvent(ev, time.Now())
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

func (c *Client) report(phase syncer.Phase, err error) {
	c.status.Store(&status{phase: phase, err: err})
	if c.callbacks.OnStatus != nil {
		c.callbacks.OnStatus(phase, err)
	}
}
