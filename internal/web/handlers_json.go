package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/vitos/grid_ledger/internal/infrastructure/logger"
	"go.uber.org/zap"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// respondControl sends dashboard form posts back to the dashboard and answers
// API clients with JSON.
func (s *Server) respondControl(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.writeJSON(w, status, v)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.Status(r.Context())
	if err != nil {
		s.logger.Error("Failed to build status", zap.Error(err))
		http.Error(w, "Failed to build status", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleLevels(w http.ResponseWriter, r *http.Request) {
	lots, err := s.lots.ListLots(r.Context())
	if err != nil {
		s.logger.Error("Failed to list levels", zap.Error(err))
		http.Error(w, "Failed to list levels", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, lots)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	orders, err := s.orders.ListOrders(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list orders", zap.Error(err))
		http.Error(w, "Failed to list orders", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	n := s.opts.TailLines
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			http.Error(w, "Invalid n", http.StatusBadRequest)
			return
		}
		n = parsed
	}

	lines := []string{}
	if s.opts.LogFile != "" {
		tail, err := logger.TailLines(s.opts.LogFile, n)
		if err != nil {
			s.logger.Error("Failed to tail log", zap.Error(err))
			http.Error(w, "Failed to read log", http.StatusInternalServerError)
			return
		}
		if tail != nil {
			lines = tail
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"lines": lines})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.controls.Pause(r.Context()); err != nil {
		s.logger.Error("Failed to pause", zap.Error(err))
		http.Error(w, "Failed to pause", http.StatusInternalServerError)
		return
	}
	s.logger.Info("Operator paused trading")
	s.respondControl(w, r, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.controls.Resume(r.Context()); err != nil {
		s.logger.Error("Failed to resume", zap.Error(err))
		http.Error(w, "Failed to resume", http.StatusInternalServerError)
		return
	}
	s.logger.Info("Operator resumed trading")
	s.respondControl(w, r, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) handleWipe(w http.ResponseWriter, r *http.Request) {
	if err := s.controls.RequestWipe(r.Context()); err != nil {
		s.logger.Error("Failed to request wipe", zap.Error(err))
		http.Error(w, "Failed to request wipe", http.StatusInternalServerError)
		return
	}
	s.logger.Warn("Operator requested ledger wipe")
	s.respondControl(w, r, http.StatusAccepted, map[string]bool{"wipe_requested": true})
}

func (s *Server) handleSimPrice(w http.ResponseWriter, r *http.Request) {
	var price float64
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Price float64 `json:"price"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		price = body.Price
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		v, err := strconv.ParseFloat(r.FormValue("price"), 64)
		if err != nil {
			http.Error(w, "Invalid price", http.StatusBadRequest)
			return
		}
		price = v
	}

	if err := s.opts.Simulator.SetPrice(price); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Info("Simulated market price set", zap.Float64("price", price))
	s.respondControl(w, r, http.StatusOK, map[string]float64{
		"price": s.opts.Simulator.Price(),
		"cash":  s.opts.Simulator.Cash(),
	})
}
