// Package transport exposes the control plane over HTTP and WebSocket:
// posting commands, reading message status, and streaming live balancer
// metrics, grounded on the teacher's control_plane/api.go (handler/JSON
// idiom) and control_plane/ws_hub.go (single-broadcaster WS hub).
package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/itskum47/taskforge/control"
)

// API wraps a control.MsgQueue + control.CommandThread behind HTTP
// endpoints for posting commands and polling status.
type API struct {
	queue *control.MsgQueue
	ct    *control.CommandThread

	idMu   sync.Mutex
	nextID int
}

// NewAPI returns an API posting to queue and reading status from ct.
func NewAPI(queue *control.MsgQueue, ct *control.CommandThread) *API {
	return &API{queue: queue, ct: ct}
}

type postCommandRequest struct {
	Cmd string `json:"cmd"`
	Arg string `json:"arg"`
}

type postCommandResponse struct {
	ID int `json:"id"`
}

// PostCommand handles POST /command: {"cmd":"movenf","arg":"r1.b 2"}.
func (a *API) PostCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req postCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Cmd == "" {
		http.Error(w, "cmd is required", http.StatusBadRequest)
		return
	}

	a.idMu.Lock()
	a.nextID++
	id := a.nextID
	a.idMu.Unlock()
	a.queue.Add(control.Message{Cmd: req.Cmd, Arg: req.Arg, ID: id})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(postCommandResponse{ID: id})
}

type statusResponse struct {
	ID     int    `json:"id"`
	Status string `json:"status"`
}

// GetStatus handles GET /status?id=N: {"id":N,"status":"ok|fail|running|unknown"}.
func (a *API) GetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	idStr := r.URL.Query().Get("id")
	var id int
	if _, err := fmt.Sscanf(idStr, "%d", &id); err != nil {
		http.Error(w, "id must be an integer", http.StatusBadRequest)
		return
	}

	status := "unknown"
	switch a.ct.Status(id) {
	case control.OutcomeOK:
		status = "ok"
	case control.OutcomeFail:
		status = "fail"
	case control.OutcomeRunning:
		status = "running"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResponse{ID: id, Status: status})
}

// Mux returns an http.ServeMux wired to /command and /status.
func (a *API) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/command", a.PostCommand)
	mux.HandleFunc("/status", a.GetStatus)
	return mux
}
