package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MimeLyc/webp-autogen/internal/config"
	"github.com/MimeLyc/webp-autogen/internal/hooks"
	"github.com/MimeLyc/webp-autogen/internal/rewrite"
	"github.com/MimeLyc/webp-autogen/internal/service"
	"github.com/MimeLyc/webp-autogen/pkg/log"
)

type runtimeSettingsStore interface {
	GetRuntimeSettings() (config.RuntimeSettings, error)
	UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error)
}

type runtimeSettingsApplier func(next config.RuntimeSettings) error

type Server struct {
	svc      *service.Service
	hooks    *hooks.Registry
	settings runtimeSettingsStore
	apply    runtimeSettingsApplier
	secret   string

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithRuntimeSettingsStore(store runtimeSettingsStore) Option {
	return func(s *Server) {
		s.settings = store
	}
}

func WithRuntimeSettingsApplier(apply runtimeSettingsApplier) Option {
	return func(s *Server) {
		s.apply = apply
	}
}

// WithHooks serves the given registry instead of a private one.
// The service listeners must already be registered on it.
func WithHooks(reg *hooks.Registry) Option {
	return func(s *Server) {
		s.hooks = reg
	}
}

// WithAdminSecret turns on the capability check for admin routes.
func WithAdminSecret(secret string) Option {
	return func(s *Server) {
		s.secret = secret
	}
}

func NewServer(svc *service.Service, opts ...Option) *Server {
	s := &Server{
		svc: svc,
		mux: http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.apply == nil {
		s.apply = svc.ApplyRuntimeSettings
	}
	if s.hooks == nil {
		s.hooks = hooks.NewRegistry()
		if err := svc.RegisterHooks(s.hooks); err != nil {
			log.Warn("Failed to register hooks: %v", err)
		}
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return requestLogger(s.mux)
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/ajax", s.admin(s.handleAjax))
	s.mux.HandleFunc("/admin", s.admin(s.handleAdmin))
	s.mux.HandleFunc("/static/webp-autogen.js", s.handleScript)

	s.mux.HandleFunc("/api/settings", s.admin(s.handleSettings))
	s.mux.HandleFunc("/api/attachments", s.admin(s.handleAttachments))
	s.mux.HandleFunc("/api/jobs", s.admin(s.handleJobs))
	s.mux.HandleFunc("/api/jobs/stream", s.admin(s.handleJobStream))
	s.mux.HandleFunc("/api/stats", s.handleStats)
	s.mux.HandleFunc("/api/runs", s.handleRuns)
	s.mux.HandleFunc("/api/render", s.handleRender)
	s.mux.HandleFunc("/api/image-src", s.handleImageSrc)

	root := s.svc.Config().Uploads.Dir
	s.mux.Handle("/uploads/", http.StripPrefix("/uploads", rewrite.Negotiate(root, http.FileServer(http.Dir(root)))))
}
