// Package syncclient is the receiving end of the push pipeline: it holds
// one connection to the notifier, collapses bursts of frames into single
// notices, suppresses repeats, and signals subscribers to refetch data.
package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mintify/internal/log"
)

const (
	defaultDebounce    = 300 * time.Millisecond
	defaultSuppression = 2 * time.Second
	fallbackText       = "Update received."
)

// Options configure a Client. Zero values fall back to the defaults.
type Options struct {
	Debounce    time.Duration
	Suppression time.Duration
	Logger      *log.Logger
}

// Notice is one user-visible alert summarizing a burst of frames.
type Notice struct {
	Text  string
	Count int
	At    time.Time
}

// Client consumes notification frames. Frames arriving within one
// debounce window collapse into a single notice; a notice whose text
// repeats within the suppression window is dropped entirely.
type Client struct {
	debounce    time.Duration
	suppression time.Duration
	logger      *log.Logger

	mu       sync.Mutex
	buffer   []string
	timer    *time.Timer
	lastText string
	lastAt   time.Time
	notices  []chan Notice
	changes  []chan struct{}
	conn     *websocket.Conn
	closed   bool
}

// New builds a disconnected client. Frames can be fed directly through
// Ingest, or pulled from a live connection via Connect.
func New(opts Options) *Client {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.Suppression <= 0 {
		opts.Suppression = defaultSuppression
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.FromEnv("syncclient")
	}
	return &Client{
		debounce:    opts.Debounce,
		suppression: opts.Suppression,
		logger:      logger,
	}
}

// Subscribe returns a channel receiving every notice the client emits.
// Slow subscribers miss notices rather than blocking the pipeline.
func (c *Client) Subscribe() <-chan Notice {
	ch := make(chan Notice, 16)
	c.mu.Lock()
	c.notices = append(c.notices, ch)
	c.mu.Unlock()
	return ch
}

// Changes returns a channel that is signalled whenever local data is
// stale: after every emitted notice and after every local mutation.
func (c *Client) Changes() <-chan struct{} {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	c.changes = append(c.changes, ch)
	c.mu.Unlock()
	return ch
}

// LocalMutation tells sibling subscribers that this session changed data
// itself, so they refetch without waiting for a server push.
func (c *Client) LocalMutation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signalChanges()
}

// Connect dials the notifier and feeds incoming frames into the client.
// A session holds at most one connection.
func (c *Client) Connect(ctx context.Context, url string) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("client closed")
	}
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.logger.Warn("Push connection lost", "error", err)
			}
			return
		}
		c.Ingest(raw)
	}
}

// frame is the subset of the push wire shape the client reads.
type frame struct {
	Type string `json:"type"`
	Data struct {
		Message string `json:"message"`
	} `json:"data"`
}

// Ingest feeds one raw frame into the debounce buffer. Frames of foreign
// types are dropped; unparseable ones too.
func (c *Client) Ingest(raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.logger.Debug("Dropping unparseable frame", "error", err)
		return
	}
	if f.Type != "NOTIFICATION" {
		return
	}

	text := f.Data.Message
	if text == "" {
		text = fallbackText
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.buffer = append(c.buffer, text)

	// Each frame restarts the window, so a burst flushes once, after its
	// last frame.
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, c.flush)
}

func (c *Client) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.buffer) == 0 {
		return
	}
	count := len(c.buffer)
	unique := dedupe(c.buffer)
	c.buffer = nil

	text := unique[0]
	if len(unique) > 1 {
		text = fmt.Sprintf("%d updates: %s", len(unique), strings.Join(unique, ", "))
	}

	now := time.Now()
	if text == c.lastText && now.Sub(c.lastAt) < c.suppression {
		c.logger.Debug("Suppressing repeated notice", "text", text)
		return
	}
	c.lastText = text
	c.lastAt = now

	n := Notice{Text: text, Count: count, At: now}
	for _, ch := range c.notices {
		select {
		case ch <- n:
		default:
		}
	}
	c.signalChanges()
}

// signalChanges is called with the mutex held.
func (c *Client) signalChanges() {
	for _, ch := range c.changes {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Close tears down the connection and stops pending flushes. Buffered but
// unflushed frames are discarded.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.buffer = nil
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
