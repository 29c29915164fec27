package route

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"

	"potholecam/internal/config"
	"potholecam/internal/handler"
	"potholecam/internal/logger"
	"potholecam/internal/metrics"
	"potholecam/internal/middleware"
	"potholecam/internal/repository"
	"potholecam/internal/service"
	"potholecam/internal/service/websocket"
)

// Deps are the services the HTTP surface talks to.
type Deps struct {
	Manager       *service.Manager
	Hub           *websocket.HubService
	Metrics       *metrics.Metrics
	FrameRepo     repository.FrameRepository
	DetectionRepo repository.DetectionRepository
}

// dynamicHTMLHandler serves /path as /static/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/" {
		path = "/index"
	}

	filePath := filepath.Join("static", filepath.Clean("/"+path)+".html")

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, filePath)
}

// SetupRoutes registers the API, log, auth and metrics endpoints and wraps
// the router with the authentication middleware.
func SetupRoutes(cfg *config.Config, logger *logger.Logger, deps Deps) http.Handler {
	r := mux.NewRouter()
	m := deps.Manager

	// Static files
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))

	api := r.PathPrefix("/api").Subrouter()

	// Session
	api.HandleFunc("/view", handler.ViewWebsocketHandler(m, deps.Hub, logger))
	api.HandleFunc("/session", handler.SessionHandler(m)).Methods(http.MethodGet)
	api.HandleFunc("/session/start", handler.StartHandler(m, logger)).Methods(http.MethodPost)
	api.HandleFunc("/session/stop", handler.StopHandler(m)).Methods(http.MethodPost)
	api.HandleFunc("/session/toggle", handler.ToggleHandler(m, logger)).Methods(http.MethodPost)
	api.HandleFunc("/session/location", handler.LocationHandler(m)).Methods(http.MethodPut)
	api.HandleFunc("/session/endpoint", handler.EndpointHandler(m, logger)).Methods(http.MethodPut)
	api.HandleFunc("/session/detections", handler.RecentDetectionsHandler(m, cfg, logger)).Methods(http.MethodGet)

	// Frames and reports
	api.HandleFunc("/frames", handler.UploadFrameHandler(m, cfg, logger)).Methods(http.MethodPost)
	api.HandleFunc("/report", handler.ReportHandler(m, cfg, logger)).Methods(http.MethodPost, http.MethodGet)
	api.HandleFunc("/inference/health", handler.InferenceHealthHandler(m, logger)).Methods(http.MethodGet)

	// Archive
	api.HandleFunc("/captures", handler.GetCapturesHandler(cfg, logger, deps.FrameRepo, deps.DetectionRepo)).Methods(http.MethodGet)
	api.HandleFunc("/captures", handler.DeleteCaptureHandler(cfg, logger, deps.FrameRepo)).Methods(http.MethodDelete)
	api.HandleFunc("/captures/all", handler.ClearCapturesHandler(cfg, logger, deps.FrameRepo)).Methods(http.MethodDelete)
	api.HandleFunc("/captures/view", handler.ViewCaptureHandler(cfg)).Methods(http.MethodGet)
	api.HandleFunc("/captures/classes", handler.ClassesHandler(logger, deps.DetectionRepo)).Methods(http.MethodGet)

	// Logs
	r.HandleFunc("/logs/{level}", handler.ShowLogsHandler(cfg)).Methods(http.MethodGet)
	r.HandleFunc("/logs/{level}/clear", handler.ClearLogsHandler(logger)).Methods(http.MethodPost)

	// Auth
	r.HandleFunc("/auth/login", handler.LoginHandler(cfg, logger)).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", handler.LogoutHandler).Methods(http.MethodPost, http.MethodGet)

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	// Automatic HTML handler mapping for example: /gallery -> /static/gallery.html
	r.PathPrefix("/").HandlerFunc(dynamicHTMLHandler).Methods(http.MethodGet)

	return middleware.AuthMiddleware(cfg.Password != "")(r)
}
