package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kiosk/internal/domain"
)

// Event kinds exchanged with the UI shell.
const (
	KindScene    = "scene"
	KindCall     = "call"
	KindExercise = "exercise"
	KindToast    = "toast"
	KindRecorder = "recorder"
	KindTap      = "tap"
)

var ErrNotConnected = errors.New("bus not connected")

type Message struct {
	From    string          `json:"from"`
	To      string          `json:"to"`
	Kind    string          `json:"kind"`
	Content string          `json:"content"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Handler receives inbound messages addressed to this client.
type Handler func(ctx context.Context, m Message)

// Bus is a websocket link to the UI shell that redials when it drops.
type Bus struct {
	url       string
	name      string
	reconnect time.Duration
	dialer    *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

func New(url, name string, reconnect time.Duration) *Bus {
	if reconnect <= 0 {
		reconnect = 3 * time.Second
	}
	return &Bus{
		url:       url,
		name:      name,
		reconnect: reconnect,
		dialer:    websocket.DefaultDialer,
	}
}

// Run keeps the connection alive and feeds inbound messages to h until ctx
// is done.
func (b *Bus) Run(ctx context.Context, h Handler) error {
	go func() {
		<-ctx.Done()
		b.drop()
	}()

	for ctx.Err() == nil {
		conn, _, err := b.dialer.DialContext(ctx, b.url, nil)
		if err != nil {
			log.Debug("Failed to dial bus", "url", b.url, "err", err)
			if !sleep(ctx, b.reconnect) {
				break
			}
			continue
		}

		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()
		log.Info("Connected to bus", "url", b.url)

		err = b.readLoop(ctx, conn, h)
		b.drop()
		if ctx.Err() != nil {
			break
		}
		if isClosed(err) {
			log.Warn("Bus closed, reconnecting", "in", b.reconnect)
		} else {
			log.Warn("Bus read failed, reconnecting", "err", err, "in", b.reconnect)
		}
		if !sleep(ctx, b.reconnect) {
			break
		}
	}
	return nil
}

func (b *Bus) readLoop(ctx context.Context, conn *websocket.Conn, h Handler) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			log.Debug("Dropping malformed bus message", "err", err)
			continue
		}
		if m.To != "" && m.To != b.name {
			continue
		}
		log.Debug("Read bus", "kind", m.Kind, "content", m.Content)
		if h != nil {
			h(ctx, m)
		}
	}
}

// Publish sends one event to the UI. data, when not nil, is sent as JSON.
func (b *Bus) Publish(_ context.Context, kind, content string, data any) error {
	m := Message{From: b.name, To: "ui", Kind: kind, Content: content}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s event: %w", kind, err)
		}
		m.Data = raw
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return ErrNotConnected
	}
	log.Debug("Write bus", "kind", kind, "content", content)
	return b.conn.WriteMessage(websocket.TextMessage, payload)
}

// Toast shows n in the UI.
func (b *Bus) Toast(ctx context.Context, n domain.Notification) error {
	return b.Publish(ctx, KindToast, n.Title, struct {
		Title       string                    `json:"title"`
		Description string                    `json:"description"`
		Status      domain.NotificationStatus `json:"status"`
		DurationMS  int64                     `json:"duration"`
	}{n.Title, n.Description, n.Status, n.Duration.Milliseconds()})
}

func (b *Bus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

func (b *Bus) drop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
}

func isClosed(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
