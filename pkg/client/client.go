package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Client provides HTTP client functionality to communicate with the vpsman daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

const defaultBaseURL = "http://127.0.0.1:8787"

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: defaultBaseURL,
		Timeout: 60 * time.Second,
	}
}

// New creates a new vpsman API client with TLS support
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		// proxy transitions wait on validate+reload
		config.Timeout = 60 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	isReachable := resp.StatusCode == http.StatusOK
	c.logger.Debug("Daemon reachability check", "reachable", isReachable, "status", resp.StatusCode)
	return isReachable
}

// --- Applications ---

func (c *Client) ListApplications(ctx context.Context) ([]Application, error) {
	var out []Application
	err := c.do(ctx, http.MethodGet, "/applications", nil, &out)
	return out, err
}

func (c *Client) GetApplication(ctx context.Context, name string) (Application, error) {
	var out Application
	err := c.do(ctx, http.MethodGet, "/applications/"+url.PathEscape(name), nil, &out)
	return out, err
}

// CreateApplication registers an application; a zero or busy port is auto-assigned.
func (c *Client) CreateApplication(ctx context.Context, in ApplicationInput) (Application, error) {
	c.logger.Debug("Creating application", "name", in.Name, "command", in.Command, "port", in.Port)
	var out Application
	err := c.do(ctx, http.MethodPost, "/applications", in, &out)
	return out, err
}

func (c *Client) UpdateApplication(ctx context.Context, name string, up ApplicationUpdate) (Application, error) {
	var out Application
	err := c.do(ctx, http.MethodPatch, "/applications/"+url.PathEscape(name), up, &out)
	return out, err
}

func (c *Client) StartApplication(ctx context.Context, name string) (Application, error) {
	return c.appAction(ctx, name, "start")
}

func (c *Client) StopApplication(ctx context.Context, name string) (Application, error) {
	return c.appAction(ctx, name, "stop")
}

func (c *Client) RestartApplication(ctx context.Context, name string) (Application, error) {
	return c.appAction(ctx, name, "restart")
}

func (c *Client) appAction(ctx context.Context, name, action string) (Application, error) {
	c.logger.Debug("Application action", "name", name, "action", action)
	var out Application
	err := c.do(ctx, http.MethodPost, "/applications/"+url.PathEscape(name)+"/"+action, nil, &out)
	return out, err
}

func (c *Client) RemoveApplication(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/applications/"+url.PathEscape(name), nil, nil)
}

func (c *Client) ApplicationStatus(ctx context.Context, name string) (ApplicationStatus, error) {
	var out ApplicationStatus
	err := c.do(ctx, http.MethodGet, "/applications/"+url.PathEscape(name)+"/status", nil, &out)
	return out, err
}

func (c *Client) Resources(ctx context.Context, name string) (Usage, error) {
	var out Usage
	err := c.do(ctx, http.MethodGet, "/applications/"+url.PathEscape(name)+"/resources", nil, &out)
	return out, err
}

// --- Domains ---

func (c *Client) ListDomains(ctx context.Context) ([]Domain, error) {
	var out []Domain
	err := c.do(ctx, http.MethodGet, "/domains", nil, &out)
	return out, err
}

func (c *Client) GetDomain(ctx context.Context, domain string) (Domain, error) {
	var out Domain
	err := c.do(ctx, http.MethodGet, "/domains/"+url.PathEscape(domain), nil, &out)
	return out, err
}

func (c *Client) CreateDomain(ctx context.Context, in DomainInput) (Domain, error) {
	var out Domain
	err := c.do(ctx, http.MethodPost, "/domains", in, &out)
	return out, err
}

func (c *Client) ActivateDomain(ctx context.Context, domain string) (Domain, error) {
	var out Domain
	err := c.do(ctx, http.MethodPost, "/domains/"+url.PathEscape(domain)+"/activate", nil, &out)
	return out, err
}

func (c *Client) DeactivateDomain(ctx context.Context, domain string) (Domain, error) {
	var out Domain
	err := c.do(ctx, http.MethodPost, "/domains/"+url.PathEscape(domain)+"/deactivate", nil, &out)
	return out, err
}

func (c *Client) RemoveDomain(ctx context.Context, domain string) error {
	return c.do(ctx, http.MethodDelete, "/domains/"+url.PathEscape(domain), nil, nil)
}

// --- Nginx ---

func (c *Client) CreateReverseProxy(ctx context.Context, domain string, port int) error {
	c.logger.Debug("Creating reverse proxy", "domain", domain, "port", port)
	return c.do(ctx, http.MethodPost, "/nginx/reverse-proxy", ReverseProxyRequest{Domain: domain, Port: port}, nil)
}

func (c *Client) RemoveReverseProxy(ctx context.Context, domain string) error {
	return c.do(ctx, http.MethodDelete, "/nginx/reverse-proxy/"+url.PathEscape(domain), nil, nil)
}

func (c *Client) ListSites(ctx context.Context) ([]string, error) {
	var out []string
	err := c.do(ctx, http.MethodGet, "/nginx/sites", nil, &out)
	return out, err
}

func (c *Client) DetectExistingConfigs(ctx context.Context) ([]Site, error) {
	var out []Site
	err := c.do(ctx, http.MethodGet, "/nginx/detect-configs", nil, &out)
	return out, err
}

func (c *Client) DetectRunningApplications(ctx context.Context) ([]Listener, error) {
	var out []Listener
	err := c.do(ctx, http.MethodGet, "/nginx/detect-apps", nil, &out)
	return out, err
}

func (c *Client) ImportDetectedConfigs(ctx context.Context) (ImportReport, error) {
	var out ImportReport
	err := c.do(ctx, http.MethodPost, "/nginx/import-detected", nil, &out)
	return out, err
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}

// do performs a JSON request and decodes a 2xx body into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse turns non-2xx responses into *APIError
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{
		StatusCode: resp.StatusCode,
		Kind:       errorResp.Kind,
		Message:    errorResp.Error,
		Step:       errorResp.Step,
		State:      errorResp.State,
	}
}
