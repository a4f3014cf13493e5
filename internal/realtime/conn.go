// Package realtime maintains one push connection per open chat: a websocket
// with a periodic keep-alive and bounded exponential-backoff reconnection.
// The connection object is owned by whoever holds the open chat and is torn
// down explicitly on chat switch; it is never process-global.
package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"epochchat/internal/model"
	"epochchat/internal/utils/log"
)

type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
	Reconnecting
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// keepAliveInterval is the outbound ping period while connected.
const keepAliveInterval = 25 * time.Second

// backoffSchedule is the bounded reconnect schedule; after the last entry
// every further attempt reuses the cap. Reconnection never gives up.
var backoffSchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// backoffDelay returns the wait before reconnect attempt n (0-based).
func backoffDelay(attempt int) time.Duration {
	if attempt >= len(backoffSchedule) {
		return backoffSchedule[len(backoffSchedule)-1]
	}
	return backoffSchedule[attempt]
}

type (
	// Conn is one chat's push connection. urlFn is re-evaluated on every
	// (re)connect so the dial URL always carries the current last-seen id.
	Conn struct {
		urlFn func() string

		mu        sync.Mutex
		ws        *websocket.Conn
		status    Status
		attempts  int
		closed    bool
		reconnect *time.Timer
		pingStop  chan struct{}

		onFrame  func(*model.Frame)
		onStatus func(Status)
	}
)

// Dial starts connecting in the background and returns immediately.
func Dial(urlFn func() string, onFrame func(*model.Frame), onStatus func(Status)) *Conn {
	c := &Conn{
		urlFn:    urlFn,
		onFrame:  onFrame,
		onStatus: onStatus,
	}
	go c.connect()
	return c
}

func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Conn) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	cb := c.onStatus
	c.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

func (c *Conn) connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	u := c.urlFn()
	c.mu.Unlock()

	c.setStatus(Connecting)
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		log.Debug("realtime dial failed", zap.Error(err))
		c.scheduleReconnect()
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return
	}
	c.ws = ws
	c.attempts = 0
	c.pingStop = make(chan struct{})
	pingStop := c.pingStop
	c.mu.Unlock()

	c.setStatus(Connected)
	go c.keepAlive(ws, pingStop)
	go c.readLoop(ws, pingStop)
}

// keepAlive sends the protocol-level ping frame on a fixed interval until
// the socket dies or the connection is torn down.
func (c *Conn) keepAlive(ws *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := ws.WriteJSON(&model.Frame{Type: model.FramePing}); err != nil {
				return
			}
		}
	}
}

func (c *Conn) readLoop(ws *websocket.Conn, pingStop chan struct{}) {
	defer close(pingStop)
	for {
		var frame model.Frame
		if err := ws.ReadJSON(&frame); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			ws.Close()
			if closed {
				return
			}
			log.Debug("realtime socket closed", zap.Error(err))
			c.scheduleReconnect()
			return
		}
		c.dispatch(&frame)
	}
}

func (c *Conn) dispatch(frame *model.Frame) {
	if frame.Type == model.FramePong {
		// keep-alive ack, nothing to do
		return
	}
	c.mu.Lock()
	cb := c.onFrame
	c.mu.Unlock()
	if cb != nil {
		cb(frame)
	}
}

func (c *Conn) scheduleReconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	delay := backoffDelay(c.attempts)
	c.attempts++
	c.reconnect = time.AfterFunc(delay, c.connect)
	attempt := c.attempts
	c.mu.Unlock()

	c.setStatus(Reconnecting)
	log.Debug("realtime reconnect scheduled",
		zap.Int("attempt", attempt), zap.Duration("delay", delay))
}

// Disconnect tears the connection down for good. Idempotent. Timers are
// cancelled and callbacks detached before the socket closes, so no stale
// callback can observe the teardown.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.onFrame = nil
	c.onStatus = nil
	ws := c.ws
	c.ws = nil
	c.status = Disconnected
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
}
