package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/alert-escalation/internal/alerts"
	"github.com/t77yq/alert-escalation/internal/auth"
	"github.com/t77yq/alert-escalation/internal/model"
	"github.com/t77yq/alert-escalation/internal/monitor"
)

const maxBodyBytes = 1 << 20

type handler struct {
	logger *zap.Logger
	alerts *alerts.Service
	issuer *auth.Issuer
	status StatusSource
}

type healthResponse struct {
	Status   string            `json:"status"`
	Snapshot *monitor.Snapshot `json:"snapshot,omitempty"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if h.issuer == nil {
		writeError(w, http.StatusServiceUnavailable, "login disabled")
		return
	}

	token, expiresAt, err := h.issuer.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger.Warn("Rejected login", zap.String("username", req.Username))
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.internalError(w, "failed to issue token", err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt})
}

func (h *handler) createAlert(w http.ResponseWriter, r *http.Request) {
	var in alerts.Input
	if err := decode(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	alert, err := h.alerts.Create(r.Context(), in)
	if err != nil {
		var verr *alerts.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		h.internalError(w, "failed to create alert", err)
		return
	}
	h.logger.Info("Alert created via API",
		zap.String("alert_id", alert.ID),
		zap.String("subject", auth.SubjectFromContext(r.Context())))
	writeJSON(w, http.StatusOK, alert)
}

func (h *handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	list, err := h.alerts.ListAll(r.Context())
	if err != nil {
		h.internalError(w, "failed to list alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (h *handler) listByDriver(w http.ResponseWriter, r *http.Request) {
	list, err := h.alerts.ListByDriver(r.Context(), r.PathValue("driverId"))
	if err != nil {
		h.internalError(w, "failed to list alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (h *handler) getAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.alerts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Alert not found")
			return
		}
		h.internalError(w, "failed to load alert", err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (h *handler) resolveAlert(w http.ResponseWriter, r *http.Request) {
	result, err := h.alerts.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		h.internalError(w, "failed to resolve alert", err)
		return
	}
	status := http.StatusOK
	if !result.Found {
		status = http.StatusNotFound
	} else {
		h.logger.Info("Alert resolved via API",
			zap.String("alert_id", result.Alert.ID),
			zap.String("subject", auth.SubjectFromContext(r.Context())))
	}
	writeJSON(w, status, map[string]string{"message": result.Message})
}

func (h *handler) topDrivers(w http.ResponseWriter, r *http.Request) {
	counts, err := h.alerts.TopDrivers(r.Context())
	if err != nil {
		h.internalError(w, "failed to rank drivers", err)
		return
	}
	if r.URL.Query().Get("format") == "json" {
		if counts == nil {
			counts = []model.DriverCount{}
		}
		writeJSON(w, http.StatusOK, counts)
		return
	}

	lines := make([]string, 0, len(counts))
	for _, c := range counts {
		lines = append(lines, c.String())
	}
	writeJSON(w, http.StatusOK, lines)
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.alerts.Stats(r.Context())
	if err != nil {
		h.internalError(w, "failed to compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.status != nil {
		resp.Snapshot = h.status.Last()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) internalError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, msg)
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

func nonNil(list []*model.Alert) []*model.Alert {
	if list == nil {
		return []*model.Alert{}
	}
	return list
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
