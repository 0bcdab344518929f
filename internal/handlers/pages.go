package handlers

import (
	"context"
	"net/http"
	"time"
)

// Home renders the landing page for guests and signed-in users alike.
func (wb *Web) Home(w http.ResponseWriter, r *http.Request) {
	wb.handle(func(w http.ResponseWriter, r *http.Request) response {
		return render(http.StatusOK, pageHome, "Home", nil)
	})(w, r)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type healthResponse struct {
	Status string `json:"status"`
}

// Healthz reports whether the database answers within a second.
func Healthz(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				writeError(w, http.StatusServiceUnavailable, "database unavailable")
				return
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}
