package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/cliptalk/internal/device"
	"github.com/audiolibrelab/cliptalk/internal/media"
	"github.com/audiolibrelab/cliptalk/internal/recording"
	"github.com/audiolibrelab/cliptalk/internal/service"
	"github.com/audiolibrelab/cliptalk/internal/transcript"
)

const (
	writeWait       = 10 * time.Second
	pingPeriod      = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server represents the web server for controlling ClipTalk
type Server struct {
	service  service.Service
	addr     string
	upgrader websocket.Upgrader
}

// GenericResponse represents a generic API response
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TranscriptResponse represents the JSON response for the transcript endpoint
type TranscriptResponse struct {
	Messages []transcript.Message `json:"messages"`
}

// DevicesResponse represents the JSON response for the devices endpoint
type DevicesResponse struct {
	Devices []string `json:"devices"`
}

// ProfileRequest selects a configuration profile
type ProfileRequest struct {
	Name string `json:"name"`
}

// New creates a new web server instance
func New(svc service.Service, addr string) *Server {
	return &Server{
		service: svc,
		addr:    addr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the routes served by the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/init", s.handleInit)
	mux.HandleFunc("POST /api/start", s.intent("start", "Countdown started", s.service.StartCountdown))
	mux.HandleFunc("POST /api/pause", s.intent("pause", "Recording paused", s.service.Pause))
	mux.HandleFunc("POST /api/resume", s.intent("resume", "Recording resumed", s.service.Resume))
	mux.HandleFunc("POST /api/stop", s.intent("stop", "Recording stopped", s.service.Stop))
	mux.HandleFunc("POST /api/cancel", s.intent("cancel", "Recording cancelled", s.service.Cancel))
	mux.HandleFunc("POST /api/upload/cancel", s.handleCancelUpload)
	mux.HandleFunc("GET /api/transcript", s.handleTranscript)
	mux.HandleFunc("GET /api/media/{id}", s.handleMedia)
	mux.HandleFunc("GET "+media.ClipRoute+"{name}", s.handleClip)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("POST /api/profile", s.handleProfile)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting ClipTalk Web Server",
		"addr", s.addr,
		"local_url", fmt.Sprintf("http://%s", displayAddr(s.addr)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("web server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("Shutting down web server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(indexHTML))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Status())
}

// handleInit acquires the capture device (IDLE -> READY)
func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Init(r.Context()); err != nil {
		s.sendErrorResponse(w, statusFor(err), err.Error(), "operation", "init")
		return
	}
	writeJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Camera ready"})
}

// intent wraps a session transition as a handler
func (s *Server) intent(op, message string, fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			s.sendErrorResponse(w, statusFor(err), err.Error(), "operation", op)
			return
		}
		writeJSON(w, http.StatusOK, GenericResponse{Success: true, Message: message})
	}
}

func (s *Server) handleCancelUpload(w http.ResponseWriter, r *http.Request) {
	if !s.service.CancelUpload() {
		s.sendErrorResponse(w, http.StatusConflict, "no upload in progress", "operation", "cancel_upload")
		return
	}
	writeJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Upload cancelled"})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, TranscriptResponse{Messages: s.service.Transcript()})
}

// handleMedia serves a binary reply payload by message ID
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	contentType, data, ok := s.service.Media(r.PathValue("id"))
	if !ok {
		s.sendErrorResponse(w, http.StatusNotFound, "media not found", "id", r.PathValue("id"))
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleClip streams a locally stored recording
func (s *Server) handleClip(w http.ResponseWriter, r *http.Request) {
	path, ok := s.service.ClipPath(r.PathValue("name"))
	if !ok {
		s.sendErrorResponse(w, http.StatusNotFound, "clip not found", "name", r.PathValue("name"))
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.service.Devices(r.Context())
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to list devices: %v", err), "operation", "devices")
		return
	}
	if devices == nil {
		devices = []string{}
	}
	writeJSON(w, http.StatusOK, DevicesResponse{Devices: devices})
}

// handleProfile switches the configuration profile
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON body", "operation", "profile")
		return
	}
	if req.Name == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Profile name is required", "operation", "profile")
		return
	}
	if err := s.service.LoadProfile(req.Name); err != nil {
		s.sendErrorResponse(w, statusFor(err), err.Error(), "operation", "profile", "profile", req.Name)
		return
	}
	writeJSON(w, http.StatusOK, GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Profile '%s' loaded", req.Name),
	})
}

// handleEvents pushes service updates over a websocket. The current status
// is sent first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, unsubscribe := s.service.Subscribe()
	defer unsubscribe()

	// The reader only notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	st := s.service.Status()
	if err := s.writeUpdate(conn, service.Update{Kind: service.UpdateStatus, Status: &st}); err != nil {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case u, ok := <-updates:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			if err := s.writeUpdate(conn, u); err != nil {
				slog.Debug("WebSocket write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeUpdate(conn *websocket.Conn, u service.Update) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(u)
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	var de *device.Error
	switch {
	case errors.Is(err, recording.ErrRejected), errors.Is(err, service.ErrBusy):
		return http.StatusConflict
	case errors.As(err, &de):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	if statusCode >= http.StatusInternalServerError {
		slog.Error("Sending error response to client", logFields...)
	} else {
		slog.Debug("Sending error response to client", logFields...)
	}

	writeJSON(w, statusCode, GenericResponse{Success: false, Error: errorMsg})
}

// displayAddr turns a listen address into something a browser can open
func displayAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = getLocalIP()
	}
	return net.JoinHostPort(host, port)
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
