package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	mng "github.com/loykin/vpsman/internal/manager"
)

// ReverseProxyRequest is the body of POST /nginx/reverse-proxy.
type ReverseProxyRequest struct {
	Domain string `json:"domain"`
	Port   int    `json:"port"`
}

// --- Applications ---

func (r *Router) handleListApplications(c *gin.Context) {
	apps, err := r.mgr.ListApplications(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, apps)
}

func (r *Router) handleCreateApplication(c *gin.Context) {
	var in mng.ApplicationInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(in.Command) == "" {
		badRequest(c, "command is required")
		return
	}
	if in.Path == "" || !isSafeAbsPath(in.Path) {
		badRequest(c, "path must be a clean absolute directory")
		return
	}
	app, err := r.mgr.CreateApplication(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, app)
}

func (r *Router) handleGetApplication(c *gin.Context) {
	app, err := r.mgr.GetApplication(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, app)
}

func (r *Router) handleUpdateApplication(c *gin.Context) {
	var up mng.ApplicationUpdate
	if err := c.ShouldBindJSON(&up); err != nil {
		badRequest(c, "invalid JSON: "+err.Error())
		return
	}
	if up.Path != nil && (*up.Path == "" || !isSafeAbsPath(*up.Path)) {
		badRequest(c, "path must be a clean absolute directory")
		return
	}
	if up.Command != nil && strings.TrimSpace(*up.Command) == "" {
		badRequest(c, "command must not be empty")
		return
	}
	app, err := r.mgr.UpdateApplication(c.Request.Context(), c.Param("name"), up)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, app)
}

func (r *Router) handleRemoveApplication(c *gin.Context) {
	if err := r.mgr.RemoveApplication(c.Request.Context(), c.Param("name")); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStartApplication(c *gin.Context) {
	app, err := r.mgr.StartApplication(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, app)
}

func (r *Router) handleStopApplication(c *gin.Context) {
	app, err := r.mgr.StopApplication(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, app)
}

func (r *Router) handleRestartApplication(c *gin.Context) {
	app, err := r.mgr.RestartApplication(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, app)
}

func (r *Router) handleApplicationStatus(c *gin.Context) {
	st, err := r.mgr.ApplicationStatus(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleApplicationResources(c *gin.Context) {
	u, err := r.mgr.Resources(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, u)
}

// --- Domains ---

func (r *Router) handleListDomains(c *gin.Context) {
	ds, err := r.mgr.ListDomains(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, ds)
}

func (r *Router) handleCreateDomain(c *gin.Context) {
	var in mng.DomainInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid JSON: "+err.Error())
		return
	}
	d, err := r.mgr.CreateDomain(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, d)
}

func (r *Router) handleGetDomain(c *gin.Context) {
	d, err := r.mgr.GetDomain(c.Request.Context(), c.Param("domain"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

func (r *Router) handleRemoveDomain(c *gin.Context) {
	if err := r.mgr.RemoveDomain(c.Request.Context(), c.Param("domain")); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleActivateDomain(c *gin.Context) {
	d, err := r.mgr.ActivateDomain(c.Request.Context(), c.Param("domain"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

func (r *Router) handleDeactivateDomain(c *gin.Context) {
	d, err := r.mgr.DeactivateDomain(c.Request.Context(), c.Param("domain"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

// --- Nginx ---

func (r *Router) handleCreateReverseProxy(c *gin.Context) {
	var req ReverseProxyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON: "+err.Error())
		return
	}
	if err := r.mgr.CreateReverseProxy(c.Request.Context(), req.Domain, req.Port); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, okResp{OK: true})
}

func (r *Router) handleRemoveReverseProxy(c *gin.Context) {
	if err := r.mgr.RemoveReverseProxy(c.Request.Context(), c.Param("domain")); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleListSites(c *gin.Context) {
	sites, err := r.mgr.ListSites(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, sites)
}

func (r *Router) handleDetectConfigs(c *gin.Context) {
	sites, err := r.mgr.DetectExistingConfigs(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, sites)
}

func (r *Router) handleDetectApps(c *gin.Context) {
	ls, err := r.mgr.DetectRunningApplications(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, ls)
}

func (r *Router) handleImportDetected(c *gin.Context) {
	rep, err := r.mgr.ImportDetectedConfigs(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rep)
}
