// ABOUTME: In-memory fake of the ytwatch REST surface for agent tests
// ABOUTME: Records every call so tests can assert on uploads, heartbeats and attempts

package agent

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/2389/ytwatch/internal/apiclient"
)

type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu            sync.Mutex
	keys          map[string]string // device id -> api key
	registrations int
	heartbeats    int
	uploads       [][]apiclient.HistoryItem
	blocks        []apiclient.Block
	attempts      []apiclient.AttemptReport

	// historyStatus, when non-zero, is returned for watch-history posts.
	historyStatus int
	historyBody   any
	blocksStatus  int
	// historyGate, when set, blocks watch-history handling until closed.
	historyGate chan struct{}
	// blocksGate, when set, holds the first blocks fetch after it has read the
	// rule list until the gate is closed. blocksEntered receives each call number.
	blocksGate    chan struct{}
	blocksEntered chan int
	blocksCalls   int
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{t: t, keys: make(map[string]string)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/register", f.handleRegister)
	mux.HandleFunc("POST /api/v1/heartbeat/{device_id}", f.authed(f.handleHeartbeat))
	mux.HandleFunc("POST /api/v1/watch-history", f.authed(f.handleHistory))
	mux.HandleFunc("GET /api/v1/blocks/{device_id}", f.authed(f.handleBlocks))
	mux.HandleFunc("POST /api/v1/blocks/attempts", f.authed(f.handleAttempt))

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) client() *apiclient.Client {
	return apiclient.New(f.srv.URL, apiclient.WithTimeout(2*time.Second))
}

// forgetKeys makes every issued key invalid, as if the server lost its store.
func (f *fakeServer) forgetKeys() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = make(map[string]string)
}

func (f *fakeServer) uploadedItems() []apiclient.HistoryItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiclient.HistoryItem
	for _, batch := range f.uploads {
		out = append(out, batch...)
	}
	return out
}

func (f *fakeServer) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func (f *fakeServer) attemptReports() []apiclient.AttemptReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiclient.AttemptReport(nil), f.attempts...)
}

func (f *fakeServer) counts() (registrations, heartbeats int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registrations, f.heartbeats
}

// failHistory makes watch-history posts answer status with body; 0 restores success.
func (f *fakeServer) failHistory(status int, body any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyStatus = status
	f.historyBody = body
}

func (f *fakeServer) failBlocks(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocksStatus = status
}

func (f *fakeServer) setBlocks(blocks ...apiclient.Block) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = blocks
}

func (f *fakeServer) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		f.mu.Lock()
		deviceID := ""
		for id, k := range f.keys {
			if k == key {
				deviceID = id
			}
		}
		f.mu.Unlock()
		if deviceID == "" {
			writeTestJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid API key", "kind": "unauthenticated"})
			return
		}
		if claimed := r.PathValue("device_id"); claimed != "" && claimed != deviceID {
			writeTestJSON(w, http.StatusForbidden, map[string]string{"error": "device mismatch", "kind": "forbidden"})
			return
		}
		next(w, r)
	}
}

func (f *fakeServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req apiclient.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeTestJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json", "kind": "validation"})
		return
	}
	f.mu.Lock()
	f.registrations++
	key, ok := f.keys[req.DeviceID]
	if !ok {
		key = uuid.NewString()
		f.keys[req.DeviceID] = key
	}
	f.mu.Unlock()

	status := http.StatusCreated
	if ok {
		status = http.StatusOK
	}
	writeTestJSON(w, status, apiclient.RegisterResponse{DeviceID: req.DeviceID, APIKey: key, Message: "ok"})
}

func (f *fakeServer) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.heartbeats++
	f.mu.Unlock()
	writeTestJSON(w, http.StatusOK, apiclient.HeartbeatResponse{DeviceID: r.PathValue("device_id"), Status: "ok", Timestamp: time.Now()})
}

func (f *fakeServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	gate := f.historyGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	var req apiclient.HistoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeTestJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json", "kind": "validation"})
		return
	}

	f.mu.Lock()
	status, body := f.historyStatus, f.historyBody
	if status == 0 {
		f.uploads = append(f.uploads, req.Videos)
	}
	f.mu.Unlock()

	if status != 0 {
		writeTestJSON(w, status, body)
		return
	}
	writeTestJSON(w, http.StatusOK, apiclient.HistoryResponse{Success: true, Count: len(req.Videos), Inserted: len(req.Videos)})
}

func (f *fakeServer) handleBlocks(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.blocksCalls++
	call := f.blocksCalls
	status := f.blocksStatus
	blocks := append([]apiclient.Block(nil), f.blocks...)
	gate, entered := f.blocksGate, f.blocksEntered
	f.mu.Unlock()

	if entered != nil {
		entered <- call
	}
	if gate != nil && call == 1 {
		<-gate
	}

	if status != 0 {
		writeTestJSON(w, status, map[string]string{"error": "boom", "kind": "internal"})
		return
	}
	writeTestJSON(w, http.StatusOK, apiclient.BlocksResponse{DeviceID: r.PathValue("device_id"), Blocks: blocks, Count: len(blocks)})
}

func (f *fakeServer) handleAttempt(w http.ResponseWriter, r *http.Request) {
	var req apiclient.AttemptReport
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeTestJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json", "kind": "validation"})
		return
	}
	f.mu.Lock()
	f.attempts = append(f.attempts, req)
	f.mu.Unlock()
	writeTestJSON(w, http.StatusCreated, map[string]bool{"success": true})
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
