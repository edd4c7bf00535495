package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/sitewatch/presence-agent/monitor"
	"github.com/sitewatch/presence-agent/store"
)

// API is the agent's read-only local HTTP surface: health, metrics and
// current roster status. Roster administration stays external.
type API struct {
	store    store.Store
	hub      *StatusHub
	upgrader websocket.Upgrader
}

func NewAPI(s store.Store, hub *StatusHub) *API {
	return &API{
		store: s,
		hub:   hub,
		upgrader: websocket.Upgrader{
			// Local-network status viewers only.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleStatus returns the current observable status of every employee,
// read fresh from the store.
func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roster, err := a.store.ListRoster(r.Context())
	if err != nil {
		log.Printf("API: status read failed: %v", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}

	snapshot := make([]monitor.EmployeeStatus, 0, len(roster))
	for _, e := range roster {
		st := monitor.EmployeeStatus{
			EmployeeID: e.Employee.ID,
			FakeName:   e.Employee.FakeName,
			Online:     e.CurrentlyOnline(),
		}
		if e.LatestState != nil {
			t := e.LatestState.Timestamp
			st.LastSeen = &t
		}
		snapshot = append(snapshot, st)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshot)
}

// handleStatusStream upgrades to WebSocket and streams a snapshot after
// every scan tick.
func (a *API) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("API: websocket upgrade failed: %v", err)
		return
	}
	a.hub.Register(conn)

	// Read pump: we send only, but reading detects client disconnect.
	go func() {
		defer a.hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
