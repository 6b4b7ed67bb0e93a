package www

import (
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"node.town/hark/conversation"
	"node.town/hark/session"
)

// Source is the session state the diagnostics pages read.
type Source interface {
	Status() string
	Active() bool
	MicMuted() bool
	Volume() float64
	Conversation() []conversation.Entry
	RawMessages(since int) []session.RawMessage
	Epoch() uint64
}

type Handler struct {
	src    Source
	logger *log.Logger
	poll   time.Duration
}

func NewHandler(src Source, logger *log.Logger) *Handler {
	return &Handler{
		src:    src,
		logger: logger,
		poll:   250 * time.Millisecond,
	}
}

var indexTemplate = template.Must(template.New("index").Parse(`
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>hark</title>
    <script src="https://cdn.tailwindcss.com"></script>
</head>
<body class="bg-gray-100">
    <div class="container mx-auto px-4 py-8">
        <h1 class="text-3xl font-bold mb-2">Conversation</h1>
        <p class="text-gray-600 mb-6">{{.Status}}</p>
        <div class="space-y-4">
            {{range .Entries}}
            <div class="bg-white shadow rounded-lg p-4{{if not .IsFinal}} opacity-50{{end}}">
                <p class="text-gray-600 text-sm">{{.Timestamp.Format "2006-01-02 15:04:05"}} {{.Role}}</p>
                <p class="text-lg">{{.Text}}</p>
            </div>
            {{else}}
            <p>Nothing said yet.</p>
            {{end}}
        </div>
    </div>
</body>
</html>
`))

func (h *Handler) handleIndex(w http.ResponseWriter, _ *http.Request) {
	data := struct {
		Status  string
		Entries []conversation.Entry
	}{
		Status:  h.src.Status(),
		Entries: h.src.Conversation(),
	}

	w.Header().Set("Content-Type", "text/html")
	if err := indexTemplate.Execute(w, data); err != nil {
		h.logger.Error("failed to execute template", "error", err.Error())
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

type statusResponse struct {
	Status   string  `json:"status"`
	Active   bool    `json:"active"`
	MicMuted bool    `json:"micMuted"`
	Volume   float64 `json:"volume"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, statusResponse{
		Status:   h.src.Status(),
		Active:   h.src.Active(),
		MicMuted: h.src.MicMuted(),
		Volume:   h.src.Volume(),
	})
}

func (h *Handler) handleConversation(w http.ResponseWriter, _ *http.Request) {
	entries := h.src.Conversation()
	if entries == nil {
		entries = []conversation.Entry{}
	}
	h.writeJSON(w, entries)
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		http.Error(w, "Invalid since parameter", http.StatusBadRequest)
		return
	}
	msgs := h.src.RawMessages(since)
	if msgs == nil {
		msgs = []session.RawMessage{}
	}
	h.writeJSON(w, msgs)
}

// The zero CheckOrigin only accepts same-origin pages, so other sites
// the user has open cannot read the stream.
var upgrader = websocket.Upgrader{}

// handleStream pushes every raw message past ?since= to a websocket as
// it arrives, one JSON frame per message. A restarted session is
// streamed from its first message.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		http.Error(w, "Invalid since parameter", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade", "error", err)
		return
	}
	defer conn.Close()

	// the client never talks; reading only notices when it goes away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()

	epoch := h.src.Epoch()
	for {
		if e := h.src.Epoch(); e != epoch {
			epoch, since = e, 0
		}
		for _, msg := range h.src.RawMessages(since) {
			if msg.Epoch != epoch {
				break
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("stream closed", "error", err)
				return
			}
			since = msg.Seq
		}

		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func parseSince(r *http.Request) (int, error) {
	s := r.URL.Query().Get("since")
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err.Error())
	}
}
