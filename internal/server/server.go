// Package server serves completed snapshot files over HTTP.
//
// GET / returns the index snapshot and GET /<name>.json returns
// <dir>/<name>.json. Bodies are cached in memory until the file changes on
// disk, carry a content ETag and are gzip-compressed when the client
// accepts it. Requests run on a fixed-size WorkerPool.
package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/gzhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"lukechampine.com/blake3"

	"github.com/Sumatoshi-tech/cochange/internal/observability"
)

// Defaults applied by New to zero Config fields.
const (
	DefaultAddr         = "127.0.0.1:7878"
	DefaultIndex        = "index.json"
	DefaultCacheEntries = 64
	DefaultQueueLen     = 64
	DefaultReadTimeout  = 10 * time.Second
	DefaultWriteTimeout = 30 * time.Second

	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
	contentTypeJSON   = "application/json"
	tracerServer      = "cochange.server"
	opSnapshot        = "snapshot"
)

// Sentinel errors.
var (
	ErrNotFound   = errors.New("snapshot not found")
	ErrNoDir      = errors.New("snapshot directory not set")
	ErrIndexName  = errors.New("invalid index name")
	ErrIndexState = errors.New("index snapshot unavailable")
)

var snapshotName = regexp.MustCompile(`^[A-Za-z0-9._-]+\.json$`)

// Config configures a Server.
type Config struct {
	Addr         string
	Dir          string
	Index        string
	Workers      int
	QueueLen     int
	CacheEntries int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Deps are the observability collaborators of a Server. Zero fields fall
// back to the global providers or are left out.
type Deps struct {
	Logger         *slog.Logger
	Tracer         trace.Tracer
	RED            *observability.REDMetrics
	MetricsHandler http.Handler
}

type cachedFile struct {
	modTime time.Time
	etag    string
	body    []byte
	size    int64
}

// Server serves snapshot files from one directory.
type Server struct {
	cache   *lru.Cache[string, cachedFile]
	pool    *WorkerPool
	logger  *slog.Logger
	tracer  trace.Tracer
	red     *observability.REDMetrics
	metrics http.Handler
	cfg     Config
}

// New validates cfg and starts the worker pool. Call Close to stop it.
func New(cfg Config, deps Deps) (*Server, error) {
	if cfg.Dir == "" {
		return nil, ErrNoDir
	}

	applyDefaults(&cfg)

	if !snapshotName.MatchString(cfg.Index) {
		return nil, fmt.Errorf("%w: %q", ErrIndexName, cfg.Index)
	}

	cache, err := lru.New[string, cachedFile](cfg.CacheEntries)
	if err != nil {
		return nil, fmt.Errorf("create snapshot cache: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerServer)
	}

	return &Server{
		cache:   cache,
		pool:    NewWorkerPool(cfg.Workers, cfg.QueueLen, logger),
		logger:  logger,
		tracer:  tracer,
		red:     deps.RED,
		metrics: deps.MetricsHandler,
		cfg:     cfg,
	}, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	if cfg.Index == "" {
		cfg.Index = DefaultIndex
	}

	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}

	if cfg.QueueLen <= 0 {
		cfg.QueueLen = DefaultQueueLen
	}

	if cfg.CacheEntries <= 0 {
		cfg.CacheEntries = DefaultCacheEntries
	}

	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}

	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
}

// Handler returns the full route table: snapshots plus /healthz, /readyz
// and, when a metrics handler was given, /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", observability.HealthHandler())
	mux.Handle("/readyz", observability.ReadyHandler(s.indexReady))

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	var snapshots http.Handler = http.HandlerFunc(s.serveSnapshot)
	snapshots = s.pool.Middleware(snapshots)
	snapshots = s.red.HTTPHandler(opSnapshot, snapshots)
	snapshots = observability.HTTPMiddleware(s.tracer, s.logger, snapshots)

	mux.Handle("/", gzhttp.GzipHandler(snapshots))

	return mux
}

// ListenAndServe serves on cfg.Addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig

	listener, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}

	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is canceled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve(listener)
	}()

	s.logger.InfoContext(ctx, "serving snapshots", "addr", listener.Addr().String(), "dir", s.cfg.Dir, "workers", s.pool.Size())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}

// Close stops the worker pool after in-flight requests finish.
func (s *Server) Close() {
	s.pool.Close()
}

func (s *Server) indexReady(context.Context) error {
	_, err := os.Stat(filepath.Join(s.cfg.Dir, s.cfg.Index))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIndexState, err)
	}

	return nil
}

func (s *Server) serveSnapshot(rw http.ResponseWriter, hr *http.Request) {
	if hr.Method != http.MethodGet && hr.Method != http.MethodHead {
		rw.Header().Set("Allow", "GET, HEAD")
		writeError(rw, http.StatusMethodNotAllowed, "method not allowed")

		return
	}

	name, ok := s.resolveName(hr.URL.Path)
	if !ok {
		writeError(rw, http.StatusNotFound, ErrNotFound.Error())

		return
	}

	file, err := s.load(name)
	if errors.Is(err, ErrNotFound) {
		writeError(rw, http.StatusNotFound, ErrNotFound.Error())

		return
	}

	if err != nil {
		s.logger.ErrorContext(hr.Context(), "read snapshot", "name", name, "error", err)
		writeError(rw, http.StatusInternalServerError, "cannot read snapshot")

		return
	}

	rw.Header().Set("Content-Type", contentTypeJSON)
	rw.Header().Set("ETag", file.etag)
	rw.Header().Set("Cache-Control", "no-cache")

	http.ServeContent(rw, hr, name, file.modTime, bytes.NewReader(file.body))
}

// resolveName maps a request path to a snapshot file name inside the
// directory.
func (s *Server) resolveName(urlPath string) (string, bool) {
	if urlPath == "/" {
		return s.cfg.Index, true
	}

	name := strings.TrimPrefix(urlPath, "/")
	if strings.Contains(name, "/") || !snapshotName.MatchString(name) || strings.HasPrefix(name, ".") {
		return "", false
	}

	return name, true
}

// load returns the file body from cache, reading it again when its size or
// mod-time changed.
func (s *Server) load(name string) (cachedFile, error) {
	path := filepath.Join(s.cfg.Dir, name)

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.cache.Remove(name)

		return cachedFile{}, ErrNotFound
	}

	if err != nil {
		return cachedFile{}, fmt.Errorf("stat %s: %w", name, err)
	}

	if !info.Mode().IsRegular() {
		return cachedFile{}, ErrNotFound
	}

	if cached, ok := s.cache.Get(name); ok && cached.size == info.Size() && cached.modTime.Equal(info.ModTime()) {
		return cached, nil
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return cachedFile{}, fmt.Errorf("read %s: %w", name, err)
	}

	sum := blake3.Sum256(body)
	file := cachedFile{
		modTime: info.ModTime(),
		etag:    `"` + hex.EncodeToString(sum[:16]) + `"`,
		body:    body,
		size:    info.Size(),
	}

	s.cache.Add(name, file)

	return file, nil
}

func writeError(rw http.ResponseWriter, code int, msg string) {
	rw.Header().Set("Content-Type", contentTypeJSON)
	rw.Header().Set("X-Content-Type-Options", "nosniff")
	rw.WriteHeader(code)

	_, _ = fmt.Fprintf(rw, "{\"error\":%q}\n", msg)
}
