package syncclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mintify/internal/log"
)

func testClient(debounce, suppression time.Duration) *Client {
	return New(Options{
		Debounce:    debounce,
		Suppression: suppression,
		Logger:      log.New(log.Config{Level: slog.LevelError, Component: "syncclient"}),
	})
}

func notificationFrame(message string) []byte {
	return []byte(fmt.Sprintf(`{"type":"NOTIFICATION","data":{"message":%q}}`, message))
}

func waitNotice(t *testing.T, ch <-chan Notice, timeout time.Duration) Notice {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(timeout):
		t.Fatal("no notice arrived in time")
		return Notice{}
	}
}

func assertNoNotice(t *testing.T, ch <-chan Notice, wait time.Duration) {
	t.Helper()
	select {
	case n := <-ch:
		t.Fatalf("unexpected notice %+v", n)
	case <-time.After(wait):
	}
}

func TestBurstCollapsesIntoOneNotice(t *testing.T) {
	c := testClient(50*time.Millisecond, time.Hour)
	defer c.Close()
	notices := c.Subscribe()

	for i := 0; i < 5; i++ {
		c.Ingest(notificationFrame(fmt.Sprintf("You spent %d in Food.", i)))
	}

	n := waitNotice(t, notices, 2*time.Second)
	if n.Count != 5 {
		t.Errorf("count = %d, want 5", n.Count)
	}
	if !strings.HasPrefix(n.Text, "5 updates:") {
		t.Errorf("text = %q, want merged summary", n.Text)
	}
	assertNoNotice(t, notices, 150*time.Millisecond)
}

func TestDuplicateFramesMergeInOneWindow(t *testing.T) {
	c := testClient(50*time.Millisecond, time.Hour)
	defer c.Close()
	notices := c.Subscribe()

	for i := 0; i < 3; i++ {
		c.Ingest(notificationFrame("You spent 15 in Food."))
	}

	n := waitNotice(t, notices, 2*time.Second)
	if n.Text != "You spent 15 in Food." {
		t.Errorf("text = %q", n.Text)
	}
	if n.Count != 3 {
		t.Errorf("count = %d, want 3", n.Count)
	}
}

func TestRepeatedNoticeSuppressed(t *testing.T) {
	c := testClient(20*time.Millisecond, 300*time.Millisecond)
	defer c.Close()
	notices := c.Subscribe()
	changes := c.Changes()

	c.Ingest(notificationFrame("You spent 15 in Food."))
	waitNotice(t, notices, 2*time.Second)
	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("no change signal after first notice")
	}

	// Same text inside the window flushes silently.
	c.Ingest(notificationFrame("You spent 15 in Food."))
	assertNoNotice(t, notices, 150*time.Millisecond)
	select {
	case <-changes:
		t.Fatal("suppressed flush must not signal changes")
	default:
	}

	// Past the window the same text alerts again.
	time.Sleep(300 * time.Millisecond)
	c.Ingest(notificationFrame("You spent 15 in Food."))
	waitNotice(t, notices, 2*time.Second)
}

func TestForeignFramesIgnored(t *testing.T) {
	c := testClient(20*time.Millisecond, time.Hour)
	defer c.Close()
	notices := c.Subscribe()

	c.Ingest([]byte(`{"type":"CONNECTED"}`))
	c.Ingest([]byte(`not json`))

	assertNoNotice(t, notices, 100*time.Millisecond)
}

func TestMissingMessageFallsBack(t *testing.T) {
	c := testClient(20*time.Millisecond, time.Hour)
	defer c.Close()
	notices := c.Subscribe()

	c.Ingest([]byte(`{"type":"NOTIFICATION","data":{}}`))

	n := waitNotice(t, notices, 2*time.Second)
	if n.Text != "Update received." {
		t.Errorf("text = %q", n.Text)
	}
}

func TestLocalMutationSignalsAllSubscribers(t *testing.T) {
	c := testClient(20*time.Millisecond, time.Hour)
	defer c.Close()
	a := c.Changes()
	b := c.Changes()

	c.LocalMutation()

	for name, ch := range map[string]<-chan struct{}{"a": a, "b": b} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s missed the signal", name)
		}
	}
}

func TestConnectFeedsFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CONNECTED"}`))
		_ = conn.WriteMessage(websocket.TextMessage, notificationFrame("You spent 15 in Food."))
		// Hold the connection open until the client is done reading.
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	c := testClient(20*time.Millisecond, time.Hour)
	defer c.Close()
	notices := c.Subscribe()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	if err := c.Connect(context.Background(), url); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Connect(context.Background(), url); err == nil {
		t.Error("second Connect must fail: one connection per session")
	}

	n := waitNotice(t, notices, 3*time.Second)
	if n.Text != "You spent 15 in Food." {
		t.Errorf("text = %q", n.Text)
	}
}
