package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/simpletutor/voicefront/internal/health"
	"github.com/simpletutor/voicefront/internal/server"
	"github.com/simpletutor/voicefront/internal/status"
)

type controller struct {
	mu         sync.Mutex
	setCalls   []bool
	setErr     error
	interrupts uint64
}

func (c *controller) SetManualListening(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setCalls = append(c.setCalls, enabled)
	return c.setErr
}

func (c *controller) RequestInterrupt() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interrupts++
	return c.interrupts
}

func (c *controller) Listening() bool { return true }

func newTestServer(t *testing.T, ctrl *controller, feed *status.Broadcaster, opts ...server.Option) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(server.New(ctrl, feed, opts...).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

func TestListen(t *testing.T) {
	t.Parallel()

	ctrl := &controller{}
	srv := newTestServer(t, ctrl, status.NewBroadcaster())

	resp, body := post(t, srv.URL+"/listen?enabled=true")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var got struct {
		ManualListening bool `json:"manual_listening"`
		Listening       bool `json:"listening"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.ManualListening || !got.Listening {
		t.Errorf("response = %+v", got)
	}

	resp, _ = post(t, srv.URL+"/listen?enabled=maybe")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad param status = %d, want 400", resp.StatusCode)
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.setCalls) != 1 || !ctrl.setCalls[0] {
		t.Errorf("SetManualListening calls = %v, want [true]", ctrl.setCalls)
	}
}

func TestListen_ControllerError(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &controller{setErr: errors.New("disk full")}, status.NewBroadcaster())
	resp, body := post(t, srv.URL+"/listen?enabled=false")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	if strings.Contains(string(body), "disk full") {
		t.Errorf("internal error leaked to client: %s", body)
	}
}

func TestListen_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &controller{}, status.NewBroadcaster())
	resp, err := http.Get(srv.URL + "/listen?enabled=true")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestInterrupt(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &controller{}, status.NewBroadcaster())
	for want := uint64(1); want <= 2; want++ {
		resp, body := post(t, srv.URL+"/interrupt")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		var got struct {
			Generation uint64 `json:"generation"`
		}
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Generation != want {
			t.Errorf("generation = %d, want %d", got.Generation, want)
		}
	}
}

func TestState(t *testing.T) {
	t.Parallel()

	feed := status.NewBroadcaster()
	feed.SetListening(true)
	feed.SetPhase(status.PhaseThinking)
	srv := newTestServer(t, &controller{}, feed)

	resp, err := http.Get(srv.URL + "/state")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var ev status.Event
	if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != status.EventState || !ev.Listening || ev.Phase != status.PhaseThinking {
		t.Errorf("state = %+v", ev)
	}
}

func TestStatusWebsocket(t *testing.T) {
	t.Parallel()

	feed := status.NewBroadcaster()
	srv := newTestServer(t, &controller{}, feed)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/status", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	// The first event is the primed state, which also proves the server
	// has subscribed.
	var first status.Event
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("read state: %v", err)
	}
	if first.Type != status.EventState || first.Phase != status.PhaseOffline {
		t.Errorf("first event = %+v", first)
	}

	feed.Message("tutor", "Konnichiwa")
	var msg status.Event
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	if msg.Type != status.EventMessage || msg.Role != "tutor" || msg.Text != "Konnichiwa" {
		t.Errorf("message event = %+v", msg)
	}
	conn.Close(websocket.StatusNormalClosure, "bye")
}

func TestHealthAndMetricsMounted(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "# HELP voicefront\n")
	})
	srv := newTestServer(t, &controller{}, status.NewBroadcaster(),
		server.WithHealth(health.New()),
		server.WithMetricsHandler(metrics),
	)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	s := server.New(&controller{}, status.NewBroadcaster())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/state"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never answered: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
