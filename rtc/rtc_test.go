package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"node.town/hark/audio"
)

func TestHTTPTokenSource(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr bool
	}{
		{"client secret", http.StatusOK, `{"client_secret":{"value":"ek_1"}}`, "ek_1", false},
		{"top level value", http.StatusOK, `{"value":"ek_2"}`, "ek_2", false},
		{"no credential", http.StatusOK, `{}`, "", true},
		{"server error", http.StatusInternalServerError, `oops`, "", true},
		{"malformed", http.StatusOK, `{`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got struct {
				Model string `json:"model"`
				Voice string `json:"voice"`
			}
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer sk" {
					t.Errorf("auth header = %q", r.Header.Get("Authorization"))
				}
				json.NewDecoder(r.Body).Decode(&got)
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			src := &HTTPTokenSource{URL: srv.URL, APIKey: "sk", Model: "m1"}
			token, err := src.Token(context.Background(), "verse")
			if tt.wantErr {
				var authErr *AuthError
				if !errors.As(err, &authErr) {
					t.Fatalf("err = %v, want *AuthError", err)
				}
				if tt.status != http.StatusOK && authErr.StatusCode != tt.status {
					t.Errorf("StatusCode = %d", authErr.StatusCode)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if token != tt.want {
				t.Errorf("token = %q, want %q", token, tt.want)
			}
			if got.Model != "m1" || got.Voice != "verse" {
				t.Errorf("request = %+v", got)
			}
		})
	}
}

func TestTokenRequestTimesOut(t *testing.T) {
	hang := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-hang:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(hang)

	src := &HTTPTokenSource{
		URL:    srv.URL,
		Client: &http.Client{Timeout: 50 * time.Millisecond},
	}
	start := time.Now()
	_, err := src.Token(context.Background(), "alloy")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want *AuthError", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("token request took %v", elapsed)
	}
}

func TestDefaultClientHasTimeout(t *testing.T) {
	if c := httpClient(nil); c.Timeout != RequestTimeout {
		t.Errorf("Timeout = %v, want %v", c.Timeout, RequestTimeout)
	}
}

func TestStaticToken(t *testing.T) {
	if _, err := StaticToken("").Token(context.Background(), ""); err == nil {
		t.Errorf("empty key accepted")
	}
	if v, _ := StaticToken("k").Token(context.Background(), ""); v != "k" {
		t.Errorf("token = %q", v)
	}
}

func TestExchangeSDP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/sdp" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("Authorization") != "Bearer ek" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		if r.URL.Query().Get("voice") != "alloy" || r.URL.Query().Get("model") != "m1" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		offer, _ := io.ReadAll(r.Body)
		if string(offer) != "v=0 offer" {
			t.Errorf("offer = %q", offer)
		}
		io.WriteString(w, "v=0 answer")
	}))
	defer srv.Close()

	answer, err := ExchangeSDP(context.Background(), nil, srv.URL, "m1", "alloy", "ek", "v=0 offer")
	if err != nil {
		t.Fatal(err)
	}
	if answer != "v=0 answer" {
		t.Errorf("answer = %q", answer)
	}
}

func TestExchangeSDPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad offer", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := ExchangeSDP(context.Background(), nil, srv.URL, "", "alloy", "ek", "v=0")
	var negErr *NegotiationError
	if !errors.As(err, &negErr) {
		t.Fatalf("err = %v, want *NegotiationError", err)
	}
	if negErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d", negErr.StatusCode)
	}
}

type fakeMic struct {
	err    error
	stream *audio.Stream
}

func (m *fakeMic) Open(context.Context) (*audio.Stream, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

type fakeTokens struct {
	err error
}

func (f fakeTokens) Token(context.Context, string) (string, error) {
	return "ek", f.err
}

func TestOpenFailures(t *testing.T) {
	logger := log.New(io.Discard)

	t.Run("microphone denied", func(t *testing.T) {
		n := NewNegotiator(Config{}, &fakeMic{err: errors.New("denied")}, fakeTokens{}, nil, logger)
		_, err := n.Open(context.Background(), "alloy")
		var permErr *PermissionError
		if !errors.As(err, &permErr) {
			t.Errorf("err = %v, want *PermissionError", err)
		}
	})

	t.Run("token failure releases the microphone", func(t *testing.T) {
		mic := &fakeMic{stream: audio.NewStream(nil, logger)}
		n := NewNegotiator(Config{}, mic, fakeTokens{err: errors.New("nope")}, nil, logger)
		_, err := n.Open(context.Background(), "alloy")
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			t.Errorf("err = %v, want *AuthError", err)
		}
		select {
		case <-mic.stream.Done():
		default:
			t.Errorf("mic stream left open")
		}
	})

	t.Run("rejected offer", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusUnauthorized)
		}))
		defer srv.Close()

		mic := &fakeMic{stream: audio.NewStream(nil, logger)}
		n := NewNegotiator(Config{RealtimeURL: srv.URL}, mic, fakeTokens{}, nil, logger)
		_, err := n.Open(context.Background(), "alloy")
		var negErr *NegotiationError
		if !errors.As(err, &negErr) {
			t.Fatalf("err = %v, want *NegotiationError", err)
		}
		if negErr.StatusCode != http.StatusUnauthorized {
			t.Errorf("StatusCode = %d", negErr.StatusCode)
		}
		select {
		case <-mic.stream.Done():
		default:
			t.Errorf("mic stream left open")
		}
	})
}

func TestConnCloseIsIdempotent(t *testing.T) {
	c := newConn(log.New(io.Discard))
	c.mic = audio.NewStream(nil, log.New(io.Discard))
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.SendText("x"); !errors.Is(err, ErrChannelNotOpen) {
		t.Errorf("SendText() = %v", err)
	}
	if c.Level() != 0 {
		t.Errorf("Level() = %v", c.Level())
	}
}
