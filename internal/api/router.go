package api

import (
	"net/http"
	"time"

	"github.com/kimhsiao/timeaudit/internal/api/handlers"
	"github.com/kimhsiao/timeaudit/internal/logging"
)

// Routes holds the handlers mounted by NewRouter.
type Routes struct {
	Activities *handlers.ActivityHandler
	Sync       *handlers.SyncHandler
	Hub        *Hub
}

// NewRouter mounts the API under /api and the event stream under /ws.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", routes.Sync.Health)
	mux.HandleFunc("/api/status", routes.Sync.Status)
	mux.HandleFunc("/api/sync", routes.Sync.Sync)
	mux.HandleFunc("/api/activities", routes.Activities.Activities)
	mux.HandleFunc("/api/activities/latest", routes.Activities.Latest)
	if routes.Hub != nil {
		mux.HandleFunc("/ws", routes.Hub.HandleWebSocket)
	}

	return logRequests(mux)
}

// NewServer returns an http.Server for the router.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Debug("HTTP request", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		})
	})
}
