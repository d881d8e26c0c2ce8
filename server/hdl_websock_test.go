package main

import (
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Every connection starts a read and a write goroutine; both must be gone
// after the client disconnects.
func TestDisconnectStopsSessionGoroutines(t *testing.T) {
	globals.sessionStore = NewSessionStore()
	globals.maxMessageSize = defaultMaxMessageSize

	srv := httptest.NewServer(http.HandlerFunc(serveWebSocket))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	before := runtime.NumGoroutine()

	const cycles = 20
	for i := 0; i < cycles; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		// Wait for the welcome frame so both loops are running.
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Fatalf("welcome %d: %v", i, err)
		}
		conn.Close()
	}

	// Loop exits lag the client-side close; poll until the count settles.
	var after int
	for deadline := time.Now().Add(3 * time.Second); ; {
		after = runtime.NumGoroutine()
		if after <= before || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A few transient runtime or httptest goroutines are tolerable; growth
	// proportional to the number of closed connections is a leak.
	if after > before+cycles/2 {
		t.Errorf("goroutines after %d disconnects: %d, started with %d", cycles, after, before)
	}

	if count := globals.sessionStore.Delete(&Session{}); count != 0 {
		t.Errorf("sessions still registered after all disconnects: %d", count)
	}
}
