package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/YunX-a/image-to-diagram-xml/generator"
	"github.com/YunX-a/image-to-diagram-xml/imageprep"
	"github.com/YunX-a/image-to-diagram-xml/logging"
	"github.com/YunX-a/image-to-diagram-xml/metrics"
	"github.com/YunX-a/image-to-diagram-xml/publisher"
)

// Options tune the HTTP front end.
type Options struct {
	MaxSessions       int
	SessionTTL        time.Duration
	MaxUpload         int64
	MaxImageDimension int
}

func (o *Options) applyDefaults() {
	if o.MaxSessions <= 0 {
		o.MaxSessions = 256
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = time.Hour
	}
	if o.MaxUpload <= 0 {
		o.MaxUpload = 20 << 20
	}
	if o.MaxImageDimension <= 0 {
		o.MaxImageDimension = imageprep.DefaultMaxDimension
	}
}

// ErrServerClosed is returned for conversions submitted after Close.
var ErrServerClosed = errors.New("server is shutting down")

// conversion 是缓存里的一项：会话本身加上发布结果，随会话一起过期。
type conversion struct {
	sess *generator.Session

	mu        sync.Mutex
	published *publisher.Published
}

func (c *conversion) setPublished(out publisher.Published) {
	c.mu.Lock()
	c.published = &out
	c.mu.Unlock()
}

func (c *conversion) getPublished() *publisher.Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.published
}

type Server struct {
	agent  *generator.Agent
	pub    *publisher.Publisher
	opts   Options
	store  *expirable.LRU[string, *conversion]
	logger *zap.Logger

	// 后台转换不跟随请求的 context，关闭服务时统一取消
	baseCtx context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex // guards closed and wg.Add
	closed  bool
	wg      sync.WaitGroup
}

// New builds the server. pub may be nil, in which case results are only
// kept in memory.
func New(agent *generator.Agent, pub *publisher.Publisher, opts Options, logger *zap.Logger) (*Server, error) {
	if agent == nil {
		return nil, errors.New("generator agent required")
	}
	logger = logging.OrNop(logger)
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		agent:   agent,
		pub:     pub,
		opts:    opts,
		store:   expirable.NewLRU[string, *conversion](opts.MaxSessions, nil, opts.SessionTTL),
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}, nil
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/conversions", s.handleConversionCreate)
	mux.HandleFunc("GET /api/conversions/{id}", s.handleConversionGet)
	mux.HandleFunc("GET /api/conversions/{id}/xml", s.handleConversionXML)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return logMiddleware(s.logger, mux)
}

// Close cancels running conversions and waits for them to return. New
// background conversions are refused from then on.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// track registers one background conversion, unless the server is closing.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

// --- Handlers ---

type conversionResp struct {
	generator.Snapshot
	PlanHTML  string               `json:"plan_html,omitempty"`
	Published *publisher.Published `json:"published,omitempty"`
}

type errorResp struct {
	Error string `json:"error"`
}

func (s *Server) handleConversionCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUpload)
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("multipart field \"image\" is required: %w", err))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	mode := r.FormValue("mode")
	switch mode {
	case "":
		mode = generator.ModeStaged
	case generator.ModeStaged, generator.ModeDirect:
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown mode %q", mode))
		return
	}

	img, err := imageprep.Prepare(data, s.opts.MaxImageDimension)
	if err != nil {
		writeError(w, http.StatusUnsupportedMediaType, err)
		return
	}

	wait, _ := strconv.ParseBool(r.FormValue("wait"))
	if !wait && !s.track() {
		writeError(w, http.StatusServiceUnavailable, ErrServerClosed)
		return
	}

	id := uuid.NewString()
	conv := &conversion{sess: generator.NewSession(id, header.Filename, s.agent)}
	s.store.Add(id, conv)
	s.logger.Info("conversion accepted",
		zap.String("id", id),
		zap.String("file", header.Filename),
		zap.String("mode", mode),
		zap.Int("image_bytes", len(img.Data)))

	if wait {
		s.runConversion(r.Context(), conv, img, mode)
		s.writeConversion(w, http.StatusOK, conv)
		return
	}
	go func() {
		defer s.wg.Done()
		s.runConversion(s.baseCtx, conv, img, mode)
	}()
	writeJSON(w, http.StatusAccepted, conversionResp{Snapshot: conv.sess.Snapshot()})
}

func (s *Server) runConversion(ctx context.Context, conv *conversion, img imageprep.Payload, mode string) {
	metrics.ConversionsActive.Inc()
	defer metrics.ConversionsActive.Dec()

	sess := conv.sess
	res, err := sess.Run(ctx, img, mode)
	if err != nil {
		s.logger.Warn("conversion failed", zap.String("id", sess.ID), zap.Error(err))
		return
	}
	if s.pub == nil {
		return
	}
	name := publisher.ArtifactName(sess.Source) + "-" + sess.ID[:8]
	out, err := s.pub.Publish(ctx, publisher.PublishParams{
		Name:       name,
		Source:     sess.Source,
		XML:        res.XML,
		Perception: res.Perception,
		Plan:       res.Plan,
		Valid:      res.Valid,
		Warnings:   res.Warnings,
	})
	if err != nil {
		s.logger.Warn("publish failed", zap.String("id", sess.ID), zap.Error(err))
		return
	}
	conv.setPublished(out)
}

func (s *Server) handleConversionGet(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.store.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("conversion not found"))
		return
	}
	s.writeConversion(w, http.StatusOK, conv)
}

func (s *Server) writeConversion(w http.ResponseWriter, status int, conv *conversion) {
	resp := conversionResp{Snapshot: conv.sess.Snapshot(), Published: conv.getPublished()}
	if resp.Result != nil && resp.Result.Plan != "" {
		if planHTML, err := publisher.PlanToHTML(resp.Result.Plan); err == nil {
			resp.PlanHTML = planHTML
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleConversionXML(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.store.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("conversion not found"))
		return
	}
	snap := conv.sess.Snapshot()
	switch snap.Status {
	case generator.StatusDone:
	case generator.StatusFailed:
		writeError(w, http.StatusUnprocessableEntity, errors.New(snap.Error))
		return
	default:
		writeError(w, http.StatusConflict, fmt.Errorf("conversion is %s", snap.Status))
		return
	}

	xmlText := snap.Result.XML
	if s.pub != nil {
		xmlText = s.pub.FormatXML(xmlText)
	}
	filename := publisher.ArtifactName(snap.Source) + ".drawio.xml"
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("X-Diagram-Valid", strconv.FormatBool(snap.Result.Valid))
	_, _ = io.WriteString(w, xmlText)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResp{Error: err.Error()})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		path := r.URL.Path
		if path == "" {
			path = "/"
		}
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}
