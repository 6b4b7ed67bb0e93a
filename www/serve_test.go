package www

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"node.town/hark/conversation"
	"node.town/hark/session"
)

type fakeSource struct {
	mu      sync.Mutex
	entries []conversation.Entry
	raw     []session.RawMessage
	epoch   uint64
}

func (f *fakeSource) Status() string  { return session.StatusConnected }
func (f *fakeSource) Active() bool    { return true }
func (f *fakeSource) MicMuted() bool  { return true }
func (f *fakeSource) Volume() float64 { return 0.5 }

func (f *fakeSource) Conversation() []conversation.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]conversation.Entry(nil), f.entries...)
}

func (f *fakeSource) RawMessages(since int) []session.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []session.RawMessage
	for _, m := range f.raw {
		if m.Seq > since {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSource) Epoch() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.epoch
}

func (f *fakeSource) add(seq int, typ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw = append(f.raw, session.RawMessage{
		Epoch: f.epoch,
		Seq:   seq,
		Data:  json.RawMessage(`{"type":"` + typ + `"}`),
	})
}

// restart mimics a Stop followed by a Start.
func (f *fakeSource) restart() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.epoch += 2
	f.raw = nil
}

func newTestServer(t *testing.T, src Source) *httptest.Server {
	t.Helper()
	h := NewHandler(src, log.New(io.Discard))
	h.poll = 5 * time.Millisecond
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	return srv
}

func TestEndpoints(t *testing.T) {
	src := &fakeSource{
		entries: []conversation.Entry{
			{ID: "a", Role: conversation.RoleUser, Text: "hello <there>", IsFinal: true},
		},
	}
	src.add(1, "input_audio_buffer.speech_started")
	src.add(2, "input_audio_buffer.speech_stopped")
	srv := newTestServer(t, src)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"index escapes text", "/", http.StatusOK, "hello &lt;there&gt;"},
		{"status", "/status", http.StatusOK, `"micMuted":true`},
		{"conversation", "/conversation", http.StatusOK, `"text":"hello <there>"`},
		{"messages since", "/messages?since=1", http.StatusOK, "speech_stopped"},
		{"bad since", "/messages?since=x", http.StatusBadRequest, "Invalid since"},
		{"routes", "/routes", http.StatusOK, "GET /conversation"},
		{"unknown", "/nope", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if !strings.Contains(string(body), tt.wantBody) {
				t.Errorf("body %q does not contain %q", body, tt.wantBody)
			}
		})
	}
}

func TestMessagesSinceExcludesOlder(t *testing.T) {
	src := &fakeSource{}
	src.add(1, "a")
	src.add(2, "b")
	srv := newTestServer(t, src)

	resp, err := http.Get(srv.URL + "/messages?since=1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var got []session.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Seq != 2 {
		t.Errorf("got %+v", got)
	}
}

func TestStream(t *testing.T) {
	src := &fakeSource{}
	src.add(1, "old")
	srv := newTestServer(t, src)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/messages/stream?since=1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	src.add(2, "response.audio_transcript.delta")
	src.add(3, "response.audio_transcript.done")

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for _, want := range []int{2, 3} {
		var msg session.RawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatal(err)
		}
		if msg.Seq != want {
			t.Errorf("seq = %d, want %d", msg.Seq, want)
		}
	}
}

func TestStreamAfterRestart(t *testing.T) {
	src := &fakeSource{}
	src.add(1, "a")
	src.add(2, "b")
	src.add(3, "c")
	srv := newTestServer(t, src)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/messages/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < 3; i++ {
		var msg session.RawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatal(err)
		}
	}

	src.restart()
	src.add(1, "fresh")

	var msg session.RawMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Seq != 1 || msg.Epoch != 2 {
		t.Errorf("got seq %d epoch %d, want the restarted session's first message", msg.Seq, msg.Epoch)
	}
}

func TestStreamRejectsOtherOrigins(t *testing.T) {
	srv := newTestServer(t, &fakeSource{})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/messages/stream"
	header := http.Header{"Origin": []string{"http://example.com"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		conn.Close()
		t.Fatal("cross-origin upgrade accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("resp = %+v", resp)
	}

	header = http.Header{"Origin": []string{srv.URL}}
	conn, _, err = websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("same-origin upgrade: %v", err)
	}
	conn.Close()
}

func TestListenAddr(t *testing.T) {
	if got := listenAddr(8080); got != "127.0.0.1:8080" {
		t.Errorf("listenAddr(8080) = %q", got)
	}
}
