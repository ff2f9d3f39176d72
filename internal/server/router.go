package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/vpsman/internal/apperr"
	mng "github.com/loykin/vpsman/internal/manager"
	"github.com/loykin/vpsman/internal/nginx"
)

// Router provides embeddable HTTP handlers for the VPS manager.
// Endpoints (relative to basePath):
//
//	GET/POST          /applications
//	GET/PATCH/DELETE  /applications/:name
//	POST              /applications/:name/{start,stop,restart}
//	GET               /applications/:name/{status,resources}
//	GET/POST          /domains
//	GET/DELETE        /domains/:domain
//	POST              /domains/:domain/{activate,deactivate}
//	POST              /nginx/reverse-proxy
//	DELETE            /nginx/reverse-proxy/:domain
//	GET               /nginx/{sites,detect-configs,detect-apps}
//	POST              /nginx/import-detected
//	GET               /healthz
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	mgr      *mng.Manager
	basePath string
	metrics  http.Handler
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(mgr *mng.Manager, basePath string) *Router {
	bp := sanitizeBase(basePath)
	return &Router{mgr: mgr, basePath: bp}
}

// WithMetrics mounts h at {basePath}/metrics.
func (r *Router) WithMetrics(h http.Handler) *Router {
	r.metrics = h
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)

	group.GET("/healthz", r.handleHealth)
	if r.metrics != nil {
		group.GET("/metrics", gin.WrapH(r.metrics))
	}

	apps := group.Group("/applications")
	apps.GET("", r.handleListApplications)
	apps.POST("", r.handleCreateApplication)
	apps.GET("/:name", r.handleGetApplication)
	apps.PATCH("/:name", r.handleUpdateApplication)
	apps.DELETE("/:name", r.handleRemoveApplication)
	apps.POST("/:name/start", r.handleStartApplication)
	apps.POST("/:name/stop", r.handleStopApplication)
	apps.POST("/:name/restart", r.handleRestartApplication)
	apps.GET("/:name/status", r.handleApplicationStatus)
	apps.GET("/:name/resources", r.handleApplicationResources)

	domains := group.Group("/domains")
	domains.GET("", r.handleListDomains)
	domains.POST("", r.handleCreateDomain)
	domains.GET("/:domain", r.handleGetDomain)
	domains.DELETE("/:domain", r.handleRemoveDomain)
	domains.POST("/:domain/activate", r.handleActivateDomain)
	domains.POST("/:domain/deactivate", r.handleDeactivateDomain)

	nx := group.Group("/nginx")
	nx.POST("/reverse-proxy", r.handleCreateReverseProxy)
	nx.DELETE("/reverse-proxy/:domain", r.handleRemoveReverseProxy)
	nx.GET("/sites", r.handleListSites)
	nx.GET("/detect-configs", r.handleDetectConfigs)
	nx.GET("/detect-apps", r.handleDetectApps)
	nx.POST("/import-detected", r.handleImportDetected)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Shut it down with http.Server's Shutdown or Close.
func NewServer(addr string, r *Router) (*http.Server, error) {
	if addr == "" {
		return nil, errors.New("server: listen address is required")
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// proxy transitions run validate+reload synchronously
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server stopped", "addr", addr, "error", err)
		}
	}()
	return server, nil
}

type errorResp struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	// set for failed proxy transitions
	Step  string `json:"step,omitempty"`
	State string `json:"state,omitempty"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// statusFor maps an error kind onto an HTTP status code.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalid, apperr.KindInvalidState:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	code := statusFor(err)
	resp := errorResp{Error: err.Error(), Kind: string(apperr.KindOf(err))}
	var te *nginx.TransitionError
	if errors.As(err, &te) {
		resp.Step = string(te.Step)
		resp.State = te.Reached.String()
	}
	if code >= http.StatusInternalServerError {
		slog.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	writeJSON(c, code, resp)
}

func badRequest(c *gin.Context, msg string) {
	writeJSON(c, http.StatusBadRequest, errorResp{Error: msg, Kind: string(apperr.KindInvalid)})
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
