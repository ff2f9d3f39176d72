package client

import (
	"github.com/loykin/vpsman/internal/apperr"
	"github.com/loykin/vpsman/internal/manager"
	"github.com/loykin/vpsman/internal/metrics"
	"github.com/loykin/vpsman/internal/nginx"
	"github.com/loykin/vpsman/internal/portprobe"
	"github.com/loykin/vpsman/internal/reconcile"
	"github.com/loykin/vpsman/internal/store"
)

// Wire types shared with the daemon.
type (
	Application       = store.Application
	Domain            = store.Domain
	ApplicationInput  = manager.ApplicationInput
	ApplicationUpdate = manager.ApplicationUpdate
	ApplicationStatus = manager.ApplicationStatus
	DomainInput       = manager.DomainInput
	Site              = nginx.Site
	Listener          = portprobe.Listener
	ImportReport      = reconcile.Report
	Usage             = metrics.Usage
)

// Errors returned by the API match these with errors.Is.
var (
	ErrNotFound        = apperr.ErrNotFound
	ErrInvalid         = apperr.ErrInvalid
	ErrInvalidState    = apperr.ErrInvalidState
	ErrConflict        = apperr.ErrConflict
	ErrExternalCommand = apperr.ErrExternalCommand
)

// ReverseProxyRequest is the body of POST /nginx/reverse-proxy.
type ReverseProxyRequest struct {
	Domain string `json:"domain"`
	Port   int    `json:"port"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Step  string `json:"step,omitempty"`
	State string `json:"state,omitempty"`
}

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
	// Step and State are set when a proxy transition failed
	Step  string
	State string
}

func (e *APIError) Error() string {
	if e.Step != "" {
		return "API error (" + e.Step + "): " + e.Message
	}
	return "API error: " + e.Message
}

// Is lets errors.Is(err, ErrNotFound) and friends work across the wire.
func (e *APIError) Is(target error) bool {
	return (&apperr.Error{Kind: apperr.Kind(e.Kind)}).Is(target)
}
