// Package api serves a read-mostly HTTP view of the relay: device states,
// recent captures, pending failed events, and a manual sweep trigger.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"attendance-relay/internal/common/constants"
	"attendance-relay/internal/models"
	"attendance-relay/internal/store"
	"attendance-relay/internal/supervisor"
	"attendance-relay/internal/utils"

	"github.com/gorilla/mux"
)

// Fleet is the supervised set of device sessions.
type Fleet interface {
	Sessions() []supervisor.Session
	Session(key string) (supervisor.Session, bool)
	Sweep(ctx context.Context) map[string]store.DrainResult
}

// PendingStore exposes the failed-event queue.
type PendingStore interface {
	Pending(deviceKey string) ([]models.FailedEventRecord, error)
	Counts() (map[string]int, error)
}

type Handler struct {
	fleet   Fleet
	pending PendingStore
}

func NewHandler(fleet Fleet, pending PendingStore) *Handler {
	return &Handler{
		fleet:   fleet,
		pending: pending,
	}
}

// DeviceView is one entry of GET /devices.
type DeviceView struct {
	ID      int    `json:"id"`
	IP      string `json:"ip"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Pending int    `json:"pending"`
}

// HealthCheck endpoint for service health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	connected := 0
	sessions := h.fleet.Sessions()
	for _, sess := range sessions {
		if sess.Device().Status == constants.DeviceStatusConnected {
			connected++
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "attendance-relay",
		"devices":   len(sessions),
		"connected": connected,
		"timestamp": fmt.Sprintf("%d", time.Now().Unix()),
	})
}

// GetDevices lists every configured device with its status and backlog.
func (h *Handler) GetDevices(w http.ResponseWriter, r *http.Request) {
	counts, err := h.pending.Counts()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read failed logs: %v", err), http.StatusInternalServerError)
		return
	}

	views := make([]DeviceView, 0)
	for _, sess := range h.fleet.Sessions() {
		d := sess.Device()
		views = append(views, DeviceView{
			ID:      d.ID,
			IP:      d.IP,
			Name:    d.Name,
			Status:  d.Status,
			Pending: counts[d.Key()],
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// GetRecentLogs returns the in-memory capture index of one device.
func (h *Handler) GetRecentLogs(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.RecentLogs())
}

// GetPendingLogs returns the failed events still queued for one device.
func (h *Handler) GetPendingLogs(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	records, err := h.pending.Pending(sess.Key())
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read failed logs: %v", err), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []models.FailedEventRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// TriggerSweep runs a retry sweep now and reports the per-device result.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	utils.Logger.WithField("remote", r.RemoteAddr).Info("Manual sweep requested")
	writeJSON(w, http.StatusOK, h.fleet.Sweep(r.Context()))
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (supervisor.Session, bool) {
	ip := mux.Vars(r)["ip"]
	if ip == "" {
		http.Error(w, "Device ip is required", http.StatusBadRequest)
		return nil, false
	}

	sess, ok := h.fleet.Session(ip)
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown device %s", ip), http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.Logger.WithError(err).Warn("Failed to encode response")
	}
}
