// Package server exposes MeetingService over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"meetrag/internal/domain"
	"meetrag/internal/ingest"
	"meetrag/internal/log"
	"meetrag/internal/rag"
	"meetrag/internal/recordstore"
	"meetrag/internal/retrieval"
	"meetrag/internal/service"
)

const (
	DefaultMaxUploadBytes = 200 << 20
	DefaultRequestTimeout = 10 * time.Minute
)

// Server routes HTTP requests to a MeetingService.
type Server struct {
	svc            *service.MeetingService
	router         *mux.Router
	origins        []string
	uploadDir      string
	maxUploadBytes int64
	requestTimeout time.Duration
}

// Option configures the Server instance.
type Option func(*Server)

// WithCORSOrigins sets the allowed CORS origins. The default allows any origin.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// WithUploadDir sets where uploaded audio is staged before transcription.
func WithUploadDir(dir string) Option {
	return func(s *Server) { s.uploadDir = dir }
}

// WithMaxUploadBytes bounds the size of an ingest request body.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// WithRequestTimeout bounds how long a single request may run.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

func New(svc *service.MeetingService, opts ...Option) *Server {
	s := &Server{
		svc:            svc,
		router:         mux.NewRouter(),
		origins:        []string{"*"},
		uploadDir:      os.TempDir(),
		maxUploadBytes: DefaultMaxUploadBytes,
		requestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Length", "Content-Type"},
	})
	s.router.Use(c.Handler, s.logRequests, s.withTimeout)
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	s.router.HandleFunc("/ingest", s.handleIngest).Methods(http.MethodPost)
	s.router.HandleFunc("/meetings", s.handleListMeetings).Methods(http.MethodGet)
	s.router.HandleFunc("/meetings/{id}", s.handleGetMeeting).Methods(http.MethodGet)
	s.router.HandleFunc("/meetings/{id}", s.handleDeleteMeeting).Methods(http.MethodDelete)
	s.router.HandleFunc("/reindex", s.handleReindex).Methods(http.MethodPost)

	s.router.HandleFunc("/search", s.handleSearch).Methods(http.MethodPost)
	s.router.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	s.router.HandleFunc("/conversations/{id}", s.handleGetConversation).Methods(http.MethodGet)
	s.router.HandleFunc("/conversations/{id}", s.handleDeleteConversation).Methods(http.MethodDelete)

	// cors answers preflights itself; this only keeps mux from replying 405.
	s.router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Infof("%s %s -> %d (%s)", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	})
}

func (s *Server) withTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ---- Handlers -----------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.svc.Health(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, health)
}

type ingestResponse struct {
	MeetingID string        `json:"meeting_id"`
	Status    domain.Status `json:"status"`
	Reason    string        `json:"failure_reason,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, domain.Wrap(domain.KindValidation, err, "parse upload"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, domain.Wrap(domain.KindValidation, err, "missing form field \"file\""))
		return
	}
	defer file.Close()

	kind, err := ingest.SourceFor(header.Filename)
	if err != nil {
		s.writeError(w, err)
		return
	}
	src := ingest.Source{Kind: kind, Name: header.Filename}
	if kind == domain.SourceAudio {
		path, err := s.stage(file, filepath.Ext(header.Filename))
		if err != nil {
			s.writeError(w, err)
			return
		}
		defer os.Remove(path)
		src.Path = path
	} else if src.Data, err = io.ReadAll(file); err != nil {
		s.writeError(w, domain.Wrap(domain.KindValidation, err, "read upload"))
		return
	}

	meta := ingest.Metadata{
		Language:    r.FormValue("language"),
		MeetingType: r.FormValue("meeting_type"),
		Title:       r.FormValue("title"),
		OutputLang:  r.FormValue("output_lang"),
	}
	rec, err := s.svc.Ingest(r.Context(), src, meta)
	if err != nil {
		if rec != nil {
			// The meeting was stored as failed; report which one.
			s.writeJSON(w, statusFor(err), ingestResponse{MeetingID: rec.ID, Status: rec.Status, Reason: rec.FailureReason})
			return
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ingestResponse{MeetingID: rec.ID, Status: rec.Status})
}

// stage copies an upload to disk, keeping its extension so the transcriber
// can tell the container format.
func (s *Server) stage(r io.Reader, ext string) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", domain.Wrap(domain.KindFatal, err, "create upload dir")
	}
	f, err := os.CreateTemp(s.uploadDir, "upload-*"+ext)
	if err != nil {
		return "", domain.Wrap(domain.KindFatal, err, "stage upload")
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		_ = os.Remove(f.Name())
		return "", domain.Wrap(domain.KindValidation, err, "read upload")
	}
	return f.Name(), nil
}

// meetingSummary is the listing view of a record; the transcript is omitted.
type meetingSummary struct {
	ID          string        `json:"id"`
	CreatedAt   time.Time     `json:"created_at"`
	Title       string        `json:"title,omitempty"`
	MeetingType string        `json:"meeting_type"`
	Language    string        `json:"language"`
	Status      domain.Status `json:"status"`
	Source      domain.Source `json:"source"`
	Summary     string        `json:"summary"`
	Chunks      int           `json:"chunks"`
}

type listResponse struct {
	History []meetingSummary `json:"history"`
	Total   int              `json:"total"`
}

func (s *Server) handleListMeetings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := recordstore.ListQuery{
		MeetingType: q.Get("filter_type"),
		Language:    q.Get("language"),
		Sort:        q.Get("sort_by"),
	}
	var err error
	if query.Limit, err = intParam(q.Get("limit")); err != nil {
		s.writeError(w, err)
		return
	}
	if query.Offset, err = intParam(q.Get("offset")); err != nil {
		s.writeError(w, err)
		return
	}
	page, err := s.svc.List(r.Context(), query)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := listResponse{History: make([]meetingSummary, 0, len(page.Records)), Total: page.Total}
	for _, rec := range page.Records {
		resp.History = append(resp.History, meetingSummary{
			ID:          rec.ID,
			CreatedAt:   rec.CreatedAt,
			Title:       rec.Title,
			MeetingType: rec.MeetingType,
			Language:    rec.Language,
			Status:      rec.Status,
			Source:      rec.Source,
			Summary:     rec.Analysis.Summary,
			Chunks:      len(rec.ChunkIDs),
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, domain.Validationf("%q is not an integer", v)
	}
	return n, nil
}

func (s *Server) handleGetMeeting(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteMeeting(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Reindex(r.Context())
	if err != nil && report == nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	s.writeJSON(w, status, report)
}

type searchResponse struct {
	Results []domain.SearchResult `json:"results"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req retrieval.Request
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	results, err := s.svc.Search(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if results == nil {
		results = []domain.SearchResult{}
	}
	s.writeJSON(w, http.StatusOK, searchResponse{Results: results})
}

type chatRequest struct {
	ConversationID string    `json:"conversation_id"`
	Question       string    `json:"question"`
	Scope          rag.Scope `json:"scope"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	ans, err := s.svc.Chat(r.Context(), rag.Question{
		Text:           req.Question,
		ConversationID: req.ConversationID,
		Scope:          req.Scope,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ans)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	conv, err := s.svc.Conversation(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "turns": conv})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.DeleteConversation(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// ---- Encoding -----------------------------------------------------------

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.Wrap(domain.KindValidation, err, "decode request body")
	}
	return nil
}

type errorBody struct {
	Kind      domain.Kind `json:"kind"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
	Cause     string      `json:"cause,omitempty"`
}

func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	body := errorBody{Kind: domain.KindOf(err), Message: err.Error(), Retryable: domain.IsRetryable(err)}
	var de *domain.Error
	if errors.As(err, &de) {
		body.Message = de.Message
		if de.Cause != nil {
			body.Cause = de.Cause.Error()
		}
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("request failed: %v", err)
	}
	s.writeJSON(w, status, body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("write response: %v", err)
	}
}
