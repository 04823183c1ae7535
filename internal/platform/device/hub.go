// Package device bridges the handheld device to the backend over a websocket.
// The device streams positions and answers capability requests; the Hub
// exposes them as the platform capability interfaces.
package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/patrickmn/go-cache"

	"github.com/zhouzirui/guardian/backend/internal/analysis/intent"
	"github.com/zhouzirui/guardian/backend/internal/model/location"
	"github.com/zhouzirui/guardian/backend/internal/platform"
)

const (
	lastFixKey = "last_fix"
	readWindow = 60 * time.Second
)

// Message types exchanged with the device.
const (
	TypeHello         = "hello"
	TypePosition      = "position"
	TypePositionError = "position_error"
	TypeAck           = "ack"

	TypeConnected  = "connected"
	TypeLocate     = "locate"
	TypeWatchStart = "watch_start"
	TypeWatchStop  = "watch_stop"
	TypeVibrate    = "vibrate"
	TypeBeep       = "beep"
	TypeShare      = "share"
	TypeClipboard  = "clipboard"
	TypeCommand    = "command"
	TypeError      = "error"
)

// Error codes carried by position_error and ack messages.
const (
	CodePermissionDenied = "permission_denied"
	CodeTimeout          = "timeout"
	CodeUnavailable      = "unavailable"
	CodeUnsupported      = "unsupported"
)

// Inbound is a message from the device.
type Inbound struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Outbound is a message to the device.
type Outbound struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// PositionError is the payload of position_error.
type PositionError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Ack answers a share or clipboard request.
type Ack struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Options tunes the hub.
type Options struct {
	RequestTimeout time.Duration
	PingInterval   time.Duration
	CacheTTL       time.Duration
}

type result struct {
	coords *location.Coordinates
	err    error
}

// pendingRequest waits for the reply to one request. reply is the message type
// the device must answer with; position_error also answers a locate.
type pendingRequest struct {
	reply string
	ch    chan result
}

type watcher struct {
	onUpdate func(location.Coordinates)
	onError  func(error)
}

type deviceConn struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (d *deviceConn) write(msg Outbound) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_ = d.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return d.conn.WriteJSON(msg)
}

// Hub holds the single connected device.
type Hub struct {
	upgrader       websocket.Upgrader
	fixes          *cache.Cache
	requestTimeout time.Duration
	pingInterval   time.Duration

	mu      sync.Mutex
	device  *deviceConn
	pending map[string]pendingRequest
	watches map[platform.WatchID]watcher
}

// NewHub creates a hub with no device attached.
func NewHub(opts Options) *Hub {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 54 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		fixes:          cache.New(opts.CacheTTL, 2*opts.CacheTTL),
		requestTimeout: opts.RequestTimeout,
		pingInterval:   opts.PingInterval,
		pending:        make(map[string]pendingRequest),
		watches:        make(map[platform.WatchID]watcher),
	}
}

// Connected reports whether a device is attached.
func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.device != nil
}

// LastFix returns the cached fix if it has not expired.
func (h *Hub) LastFix() (location.Coordinates, bool) {
	v, ok := h.fixes.Get(lastFixKey)
	if !ok {
		return location.Coordinates{}, false
	}
	return v.(location.Coordinates), true
}

// ServeHTTP upgrades the request and serves the device until it disconnects.
// A new device replaces the previous one.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[device] upgrade failed: %v", err)
		return
	}

	d := &deviceConn{id: uuid.NewString(), conn: conn}
	h.attach(d)
	defer h.detach(d)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(readWindow))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWindow))
	})
	go h.pingLoop(ctx, d)

	_ = d.write(Outbound{Type: TypeConnected, Data: map[string]any{"deviceId": d.id}, Timestamp: time.Now().Unix()})
	log.Printf("[device] connected id=%s", d.id)

	for {
		var msg Inbound
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[device] read error id=%s: %v", d.id, err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWindow))
		h.handle(d, &msg)
	}
}

func (h *Hub) attach(d *deviceConn) {
	h.mu.Lock()
	prev := h.device
	h.device = d
	watching := len(h.watches) > 0
	h.mu.Unlock()

	if prev != nil {
		log.Printf("[device] replacing id=%s with id=%s", prev.id, d.id)
		_ = prev.conn.Close()
	}
	if watching {
		_ = d.write(Outbound{Type: TypeWatchStart, Timestamp: time.Now().Unix()})
	}
}

func (h *Hub) detach(d *deviceConn) {
	_ = d.conn.Close()

	h.mu.Lock()
	if h.device != d {
		h.mu.Unlock()
		return
	}
	h.device = nil
	pending := h.pending
	h.pending = make(map[string]pendingRequest)
	watchers := h.watcherList()
	h.mu.Unlock()

	for _, p := range pending {
		p.ch <- result{err: fmt.Errorf("%w: device disconnected", platform.ErrUnavailable)}
	}
	for _, w := range watchers {
		if w.onError != nil {
			w.onError(fmt.Errorf("%w: device disconnected", platform.ErrUnavailable))
		}
	}
	log.Printf("[device] disconnected id=%s", d.id)
}

func (h *Hub) handle(d *deviceConn, msg *Inbound) {
	switch msg.Type {
	case TypeHello:
		log.Printf("[device] hello id=%s %s", d.id, string(msg.Data))
	case TypePosition:
		var c location.Coordinates
		if err := json.Unmarshal(msg.Data, &c); err != nil {
			h.sendError(d, "invalid position payload")
			return
		}
		if c.CapturedAt.IsZero() {
			c.CapturedAt = time.Now().UTC()
		}
		h.fixes.SetDefault(lastFixKey, c)
		h.resolve(msg.RequestID, TypePosition, result{coords: &c})
		for _, w := range h.currentWatchers() {
			w.onUpdate(c)
		}
	case TypePositionError:
		var pe PositionError
		if err := json.Unmarshal(msg.Data, &pe); err != nil {
			h.sendError(d, "invalid position error payload")
			return
		}
		err := positionErr(pe)
		if msg.RequestID != "" {
			h.resolve(msg.RequestID, TypePosition, result{err: err})
			return
		}
		for _, w := range h.currentWatchers() {
			if w.onError != nil {
				w.onError(err)
			}
		}
	case TypeAck:
		var ack Ack
		if err := json.Unmarshal(msg.Data, &ack); err != nil {
			h.sendError(d, "invalid ack payload")
			return
		}
		h.resolve(msg.RequestID, TypeAck, result{err: ackErr(ack)})
	default:
		h.sendError(d, "unsupported message type: "+msg.Type)
	}
}

// resolve completes the request named by requestID. A reply of the wrong kind
// fails the request instead of being read as success.
func (h *Hub) resolve(requestID, reply string, r result) {
	if requestID == "" {
		return
	}
	h.mu.Lock()
	p, ok := h.pending[requestID]
	delete(h.pending, requestID)
	h.mu.Unlock()
	if !ok {
		return
	}
	if p.reply != reply {
		log.Printf("[device] request=%s expected %s reply, got %s", requestID, p.reply, reply)
		r = result{err: fmt.Errorf("%w: unexpected %s reply", platform.ErrUnavailable, reply)}
	}
	p.ch <- r
}

// request sends msg and waits for the matching reply.
func (h *Hub) request(ctx context.Context, msgType, reply string, data any) (result, error) {
	h.mu.Lock()
	d := h.device
	if d == nil {
		h.mu.Unlock()
		return result{}, platform.ErrUnavailable
	}
	id := uuid.NewString()
	ch := make(chan result, 1)
	h.pending[id] = pendingRequest{reply: reply, ch: ch}
	h.mu.Unlock()

	if err := d.write(Outbound{Type: msgType, RequestID: id, Data: data, Timestamp: time.Now().Unix()}); err != nil {
		h.forget(id)
		return result{}, fmt.Errorf("%w: %v", platform.ErrUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, h.requestTimeout)
	defer cancel()

	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		h.forget(id)
		return result{}, ctx.Err()
	}
}

func (h *Hub) forget(id string) {
	h.mu.Lock()
	delete(h.pending, id)
	h.mu.Unlock()
}

// send delivers a one-way message.
func (h *Hub) send(msgType string, data any) error {
	h.mu.Lock()
	d := h.device
	h.mu.Unlock()
	if d == nil {
		return platform.ErrUnavailable
	}
	if err := d.write(Outbound{Type: msgType, Data: data, Timestamp: time.Now().Unix()}); err != nil {
		return fmt.Errorf("%w: %v", platform.ErrUnavailable, err)
	}
	return nil
}

// CurrentPosition implements platform.Geolocation.
func (h *Hub) CurrentPosition(ctx context.Context, maxAge time.Duration) (location.Coordinates, error) {
	if maxAge > 0 {
		if c, ok := h.LastFix(); ok && c.Age(time.Now()) <= maxAge {
			return c, nil
		}
	}
	r, err := h.request(ctx, TypeLocate, TypePosition, map[string]any{"maxAgeMs": maxAge.Milliseconds()})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return location.Coordinates{}, location.ErrTimeout
		}
		return location.Coordinates{}, err
	}
	if r.err != nil {
		return location.Coordinates{}, r.err
	}
	if r.coords == nil {
		return location.Coordinates{}, fmt.Errorf("%w: empty position reply", location.ErrUnavailable)
	}
	return *r.coords, nil
}

// Watch implements platform.Geolocation.
func (h *Hub) Watch(onUpdate func(location.Coordinates), onError func(error)) (platform.WatchID, error) {
	h.mu.Lock()
	if h.device == nil {
		h.mu.Unlock()
		return "", platform.ErrUnavailable
	}
	id := platform.WatchID(uuid.NewString())
	first := len(h.watches) == 0
	h.watches[id] = watcher{onUpdate: onUpdate, onError: onError}
	h.mu.Unlock()

	if first {
		if err := h.send(TypeWatchStart, nil); err != nil {
			h.ClearWatch(id)
			return "", err
		}
	}
	return id, nil
}

// ClearWatch implements platform.Geolocation.
func (h *Hub) ClearWatch(id platform.WatchID) {
	h.mu.Lock()
	if _, ok := h.watches[id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.watches, id)
	last := len(h.watches) == 0
	h.mu.Unlock()

	if last {
		_ = h.send(TypeWatchStop, nil)
	}
}

// Vibrate implements platform.Haptics.
func (h *Hub) Vibrate(_ context.Context, pattern []time.Duration) error {
	ms := make([]int64, len(pattern))
	for i, p := range pattern {
		ms[i] = p.Milliseconds()
	}
	return h.send(TypeVibrate, map[string]any{"patternMs": ms})
}

// Beep implements platform.Tone.
func (h *Hub) Beep(_ context.Context, frequencyHz float64, duration time.Duration) error {
	return h.send(TypeBeep, map[string]any{"frequencyHz": frequencyHz, "durationMs": duration.Milliseconds(), "waveform": "square"})
}

// Share implements platform.Sharer.
func (h *Hub) Share(ctx context.Context, payload platform.SharePayload) error {
	r, err := h.request(ctx, TypeShare, TypeAck, payload)
	if err != nil {
		return err
	}
	return r.err
}

// WriteText implements platform.Clipboard.
func (h *Hub) WriteText(ctx context.Context, text string) error {
	r, err := h.request(ctx, TypeClipboard, TypeAck, map[string]string{"text": text})
	if err != nil {
		return err
	}
	return r.err
}

// Dispatch forwards an assistant command to the device.
func (h *Hub) Dispatch(_ context.Context, sessionID string, cmd intent.Command) error {
	return h.send(TypeCommand, map[string]string{"sessionId": sessionID, "command": string(cmd)})
}

func (h *Hub) currentWatchers() []watcher {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.watcherList()
}

func (h *Hub) watcherList() []watcher {
	out := make([]watcher, 0, len(h.watches))
	for _, w := range h.watches {
		out = append(out, w)
	}
	return out
}

func (h *Hub) sendError(d *deviceConn, message string) {
	if err := d.write(Outbound{Type: TypeError, Data: map[string]string{"message": message}, Timestamp: time.Now().Unix()}); err != nil {
		log.Printf("[device] write error failed: %v", err)
	}
}

func (h *Hub) pingLoop(ctx context.Context, d *deviceConn) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.writeMu.Lock()
			err := d.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			d.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func positionErr(pe PositionError) error {
	switch pe.Code {
	case CodePermissionDenied:
		return location.ErrPermissionDenied
	case CodeTimeout:
		return location.ErrTimeout
	default:
		if pe.Message == "" {
			return location.ErrUnavailable
		}
		return fmt.Errorf("%w: %s", location.ErrUnavailable, pe.Message)
	}
}

func ackErr(ack Ack) error {
	if ack.OK {
		return nil
	}
	switch ack.Code {
	case CodeUnsupported:
		return platform.ErrShareUnsupported
	case CodeUnavailable:
		return platform.ErrUnavailable
	case CodePermissionDenied:
		return fmt.Errorf("%w: %s", location.ErrPermissionDenied, ack.Message)
	default:
		if ack.Message == "" {
			return errors.New("device rejected request")
		}
		return errors.New(ack.Message)
	}
}
