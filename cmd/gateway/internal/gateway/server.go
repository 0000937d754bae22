package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/shubham-shewale/bullion-desk/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/bullion-desk/pkg/models"
)

type controlRequest struct {
	State string `json:"state"`
}

type controlResponse struct {
	Symbol   models.Symbol       `json:"symbol"`
	State    models.ControlState `json:"state"`
	Previous models.ControlState `json:"previous,omitempty"`
}

// NewHandler serves the client websocket on /ws and the operator trading
// gate on /control/{symbol}. GET /control lists every symbol with state.
func NewHandler(h *hub.Hub, validTickers map[string]bool, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			logger.Warn("Upgrade failed", zap.Error(err))
			return
		}

		client := NewClient(conn, h, logger)
		client.Start()
	})

	known := func(w http.ResponseWriter, sym string) bool {
		if len(validTickers) > 0 && !validTickers[sym] {
			http.Error(w, "unknown symbol", http.StatusNotFound)
			return false
		}
		return true
	}

	mux.HandleFunc("GET /control", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.Controls())
	})

	mux.HandleFunc("GET /control/{symbol}", func(w http.ResponseWriter, r *http.Request) {
		sym := r.PathValue("symbol")
		if !known(w, sym) {
			return
		}
		writeJSON(w, http.StatusOK, controlResponse{Symbol: models.Symbol(sym), State: h.Control(models.Symbol(sym))})
	})

	mux.HandleFunc("POST /control/{symbol}", func(w http.ResponseWriter, r *http.Request) {
		sym := r.PathValue("symbol")
		if !known(w, sym) {
			return
		}

		var req controlRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		state, err := models.ParseControlState(req.State)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		prev := h.SetControl(models.Symbol(sym), state)
		logger.Info("Control updated by operator",
			zap.String("symbol", sym),
			zap.String("state", string(state)),
			zap.String("remote", r.RemoteAddr))
		writeJSON(w, http.StatusOK, controlResponse{Symbol: models.Symbol(sym), State: state, Previous: prev})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
