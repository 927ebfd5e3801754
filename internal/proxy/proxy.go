package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/lounge-voice/internal/observability"
	"github.com/lexiqai/lounge-voice/internal/resilience"
)

// Prefix is the path the proxy is mounted under
const Prefix = "/api-proxy/"

const maxBodyBytes = 10 << 20

// MissingKeyMessage is returned when no API key is configured
const MissingKeyMessage = "Server error: GOOGLE_API_KEY (or Gemini_API_KEY) not set."

// Options configures a Proxy
type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	Breaker    *resilience.CircuitBreaker // Optional
	HTTPClient *http.Client               // Optional; built from Timeout when nil
	Dialer     *websocket.Dialer          // Optional
}

// Proxy forwards requests under Prefix to the generative-language API, adding the
// server-side API key. WebSocket upgrades are relayed frame by frame.
type Proxy struct {
	base    *url.URL
	apiKey  string
	breaker *resilience.CircuitBreaker
	client  *http.Client
	dialer  *websocket.Dialer
}

// New creates a proxy for opts.BaseURL
func New(opts Options) (*Proxy, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid upstream base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("upstream base URL must be http or https, got %q", opts.BaseURL)
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   32 * 1024,
			WriteBufferSize:  32 * 1024,
		}
	}

	return &Proxy{
		base:    base,
		apiKey:  opts.APIKey,
		breaker: opts.Breaker,
		client:  client,
		dialer:  dialer,
	}, nil
}

// target builds the upstream URL for a proxied path and raw query
func (p *Proxy) target(path, rawQuery string) *url.URL {
	u := *p.base
	u.Path = p.base.Path + "/" + strings.TrimLeft(path, "/")
	u.RawQuery = "key=" + url.QueryEscape(p.apiKey)
	if rawQuery != "" {
		u.RawQuery += "&" + rawQuery
	}
	return &u
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeProxyError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":   "Proxy error",
		"details": err.Error(),
	})
}

// ServeHTTP implements http.Handler
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.apiKey == "" {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": MissingKeyMessage})
		return
	}

	path := strings.TrimPrefix(r.URL.Path, strings.TrimSuffix(Prefix, "/"))
	if websocket.IsWebSocketUpgrade(r) {
		p.relay(w, r, path)
		return
	}
	p.forward(w, r, path)
}

// admit reports whether the breaker lets a request through; it writes 503 when not
func (p *Proxy) admit(w http.ResponseWriter, kind string) bool {
	if p.breaker == nil || p.breaker.Allow() {
		return true
	}
	observability.RecordProxyRequest(kind, http.StatusServiceUnavailable, 0)
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"error":   "Upstream unavailable",
		"details": resilience.ErrCircuitOpen.Error(),
	})
	return false
}

func (p *Proxy) record(success bool) {
	if p.breaker != nil {
		p.breaker.RecordResult(success)
	}
}

func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, path string) {
	logger := observability.GetLogger().With().
		Str("component", "proxy").
		Str("method", r.Method).
		Str("path", path).
		Logger()

	var body io.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to read request body")
			writeProxyError(w, err)
			return
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, p.target(path, r.URL.RawQuery).String(), body)
	if err != nil {
		writeProxyError(w, err)
		return
	}
	req.Header.Set("X-Forwarded-For", r.Header.Get("X-Forwarded-For"))
	if ct := r.Header.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	} else {
		req.Header.Set("Content-Type", "application/json")
	}

	if !p.admit(w, "http") {
		return
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		p.record(false)
		observability.RecordProxyRequest("http", http.StatusInternalServerError, time.Since(start))
		observability.RecordError("upstream", "proxy")
		logger.Error().Err(err).Msg("Proxy error")
		writeProxyError(w, err)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		p.record(false)
		observability.RecordProxyRequest("http", http.StatusInternalServerError, time.Since(start))
		logger.Error().Err(err).Msg("Failed to read upstream response")
		writeProxyError(w, err)
		return
	}
	p.record(resp.StatusCode < 500)
	observability.RecordProxyRequest("http", resp.StatusCode, time.Since(start))

	logger.Debug().
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("Proxied request")

	contentType := "application/json"
	if !json.Valid(respBody) {
		contentType = resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "text/plain"
		}
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)
}

// websocketURL maps the upstream http(s) target onto ws(s)
func websocketURL(u *url.URL) (*url.URL, error) {
	out := *u
	switch u.Scheme {
	case "https":
		out.Scheme = "wss"
	case "http":
		out.Scheme = "ws"
	default:
		return nil, errors.New("unsupported upstream scheme " + u.Scheme)
	}
	return &out, nil
}
