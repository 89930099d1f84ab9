// Package server implements the repochat HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/seanblong/repochat/internal/answer"
	"github.com/seanblong/repochat/internal/auth"
	"github.com/seanblong/repochat/internal/indexer"
	"github.com/seanblong/repochat/internal/store"
	"github.com/seanblong/repochat/pkg/models"
)

const (
	defaultMaxUpload = 100 << 20
	listTimeout      = 5 * time.Second
	indexTimeout     = 10 * time.Minute
)

// Indexer indexes a saved upload.
type Indexer interface {
	Run(ctx context.Context, e store.Entry) (indexer.Stats, error)
}

// Answerer answers chat messages about a repository.
type Answerer interface {
	Ask(ctx context.Context, name, message string) (models.ChatMessage, error)
}

type Options struct {
	Logger         zerolog.Logger
	AllowOrigin    string
	Auth           *auth.Authenticator
	MaxUploadBytes int64
}

type Server struct {
	store   store.Store
	uploads *store.Uploads
	indexer Indexer
	answers Answerer
	opts    Options
	router  *chi.Mux
}

func New(st store.Store, uploads *store.Uploads, ix Indexer, answers Answerer, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}
	s := &Server{
		store:   st,
		uploads: uploads,
		indexer: ix,
		answers: answers,
		opts:    opts,
		router:  chi.NewRouter(),
	}

	r := s.router
	r.Use(hlog.NewHandler(opts.Logger))
	r.Use(hlog.RequestIDHandler("request_id", "X-Request-ID"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("dur", dur).
			Msg("http")
	}))
	r.Use(middleware.Recoverer)
	r.Use(cors(opts.AllowOrigin))

	r.Get("/healthz", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Use(opts.Auth.Middleware)
		r.Post("/repositories", s.createRepository)
		r.Get("/repositories", s.listRepositories)
		r.Post("/chat", s.chat)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createRepository(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "Upload too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		name = strings.TrimSpace(r.FormValue("name"))
	}
	if name == "" {
		writeError(w, r, http.StatusBadRequest, "Name is required")
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "File is required")
		return
	}
	defer file.Close()

	e, err := s.uploads.Save(name, hdr.Filename, file)
	if err != nil {
		if errors.Is(err, store.ErrInvalidName) || errors.Is(err, store.ErrInvalidFilename) {
			writeError(w, r, http.StatusBadRequest, capitalize(err.Error()))
			return
		}
		hlog.FromRequest(r).Error().Err(err).Str("name", name).Msg("saving upload failed")
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.store.CreateRepository(r.Context(), e); err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("name", name).Msg("registering repository failed")
		if rmErr := s.uploads.Remove(e); rmErr != nil {
			hlog.FromRequest(r).Warn().Err(rmErr).Str("dir", e.Dir).Msg("failed to remove upload")
		}
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	// Indexing outlives a dropped client connection.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), indexTimeout)
	defer cancel()
	if stats, err := s.indexer.Run(ctx, e); err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("name", name).Msg("indexing failed")
	} else {
		hlog.FromRequest(r).Info().
			Str("name", name).
			Str("subject", auth.SubjectFromContext(r.Context())).
			Int("indexed", stats.Indexed).
			Msg("repository indexed")
	}

	writeJSON(w, r, http.StatusOK, e.Repository)
}

func (s *Server) listRepositories(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), listTimeout)
	defer cancel()

	entries, err := s.store.ListRepositories(ctx)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("listing repositories failed")
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	repos := make([]models.Repository, 0, len(entries))
	for _, e := range entries {
		repos = append(repos, e.Repository)
	}
	writeJSON(w, r, http.StatusOK, repos)
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.RepositoryName) == "" {
		writeError(w, r, http.StatusBadRequest, "Repository name is required")
		return
	}

	reply, err := s.answers.Ask(r.Context(), req.RepositoryName, req.Message)
	switch {
	case err == nil:
		writeJSON(w, r, http.StatusOK, reply)
	case errors.Is(err, answer.ErrEmptyMessage):
		writeError(w, r, http.StatusBadRequest, "Message is required")
	case errors.Is(err, answer.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "Repository not found")
	default:
		hlog.FromRequest(r).Error().Err(err).
			Str("repository", req.RepositoryName).
			Str("subject", auth.SubjectFromContext(r.Context())).
			Msg("answer failed")
		writeError(w, r, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	writeJSON(w, r, status, models.ErrorResponse{Detail: detail})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
