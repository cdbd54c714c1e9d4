// Package canvas hosts the canvas tool's UI surface: a small directory
// server the executor can point a channel at via the `canvas` tool's
// "url"/"present" action, plus the Manager/Store pair backing its
// "push"/"reset"/"snapshot" actions. Scoped narrowly per the gateway's
// "tools the executor can invoke" boundary — this is not a general
// collaborative-editing service.
package canvas

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/beaconhq/beacon/internal/config"
)

const defaultIndexHTML = `<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Beacon Canvas</title>
  <style>
    :root { color-scheme: light; }
    * { box-sizing: border-box; }
    body {
      margin: 0;
      font-family: "Space Grotesk", "Sora", "Fira Sans", sans-serif;
      background: radial-gradient(1200px 600px at 10% 10%, #f7f3ea, #f0ede6 60%, #ebe7df 100%);
      color: #121212;
    }
    main { min-height: 100vh; display: grid; place-items: center; padding: 32px; }
    .card {
      width: min(760px, 100%);
      background: rgba(255, 255, 255, 0.85);
      border: 1px solid #e2dcd0;
      border-radius: 20px;
      padding: 24px 26px;
      box-shadow: 0 24px 60px rgba(26, 22, 14, 0.15);
    }
    h1 { margin: 0; font-size: 26px; letter-spacing: 0.4px; }
    p { margin: 12px 0 0; color: #3b3a37; line-height: 1.5; }
  </style>
</head>
<body>
  <main>
    <section class="card">
      <h1>Beacon Canvas</h1>
      <p>This folder is served by the canvas host. Add or update files and they will appear here.</p>
    </section>
  </main>
</body>
</html>`

// Host serves a canvas directory over HTTP, generating the URLs the
// canvas tool returns to a channel.
type Host struct {
	host      string
	port      int
	root      string
	rootReal  string
	namespace string
	autoIndex bool

	tokenSecret []byte
	tokenTTL    time.Duration

	logger *slog.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// CanvasURLParams carries request-derived hints used to build an
// externally reachable canvas URL when the host itself is bound to a
// wildcard or loopback address.
type CanvasURLParams struct {
	RequestHost    string
	ForwardedProto string
	LocalAddress   string
	Scheme         string
}

// NewHost creates a canvas host for the given host/persistence configuration.
func NewHost(hostCfg config.CanvasHostConfig, canvasCfg config.CanvasConfig, logger *slog.Logger) (*Host, error) {
	if strings.TrimSpace(hostCfg.Root) == "" {
		return nil, fmt.Errorf("canvas root is required")
	}
	if hostCfg.Port <= 0 {
		return nil, fmt.Errorf("canvas port must be set")
	}
	if logger == nil {
		logger = slog.Default()
	}
	autoIndex := hostCfg.AutoIndex != nil && *hostCfg.AutoIndex
	return &Host{
		host:        hostCfg.Host,
		port:        hostCfg.Port,
		root:        hostCfg.Root,
		namespace:   normalizeNamespace(hostCfg.Namespace),
		autoIndex:   autoIndex,
		tokenSecret: []byte(canvasCfg.Tokens.Secret),
		tokenTTL:    canvasCfg.Tokens.TTL,
		logger:      logger.With("component", "canvas"),
	}, nil
}

// Start begins serving the canvas host.
func (h *Host) Start(_ context.Context) error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.server != nil {
		return nil
	}
	if err := h.ensureRoot(); err != nil {
		return err
	}
	rootReal, err := filepath.EvalSymlinks(h.root)
	if err != nil {
		return fmt.Errorf("resolve canvas root: %w", err)
	}
	h.rootReal = rootReal
	if h.autoIndex {
		h.ensureIndex(h.root)
	}

	mux := http.NewServeMux()
	prefix := h.canvasPrefix()
	mux.Handle(prefix+"/", http.StripPrefix(prefix+"/", h.canvasHandler()))
	mux.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, prefix+"/", http.StatusFound)
	})

	addr := net.JoinHostPort(h.host, strconv.Itoa(h.port))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("canvas listen: %w", err)
	}
	h.server = server
	h.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			h.logger.Error("canvas server error", "error", err)
		}
	}()
	h.logger.Info("starting canvas host", "addr", addr, "root", h.root, "namespace", h.namespace)
	return nil
}

// Close shuts down the canvas host.
func (h *Host) Close() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.server.Shutdown(ctx)
	h.server = nil
	h.listener = nil
	return err
}

// CanvasURL returns the absolute URL for the canvas root.
// requestHost should be the host name from the incoming client request (without port).
func (h *Host) CanvasURL(requestHost string) string {
	return h.CanvasURLWithParams(CanvasURLParams{RequestHost: requestHost})
}

// CanvasURLWithParams returns the absolute URL for the canvas root using request details.
func (h *Host) CanvasURLWithParams(params CanvasURLParams) string {
	if h == nil {
		return ""
	}
	scheme := strings.ToLower(strings.TrimSpace(params.Scheme))
	if scheme == "" {
		if strings.EqualFold(firstForwardedProto(params.ForwardedProto), "https") {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}
	override := normalizeHost(h.host, true)
	requestHost := normalizeHost(parseHostHeader(params.RequestHost), override != "")
	localAddress := normalizeHost(parseHostHeader(params.LocalAddress), override != "" || requestHost != "")

	host := override
	if host == "" {
		host = requestHost
	}
	if host == "" {
		host = localAddress
	}
	if host == "" {
		host = "localhost"
	}
	host = trimHostBrackets(host)
	hostPort := net.JoinHostPort(host, strconv.Itoa(h.port))
	return fmt.Sprintf("%s://%s%s/", scheme, hostPort, h.canvasPrefix())
}

// CanvasSessionURL returns an unsigned URL for a specific canvas session.
func (h *Host) CanvasSessionURL(params CanvasURLParams, sessionID string) string {
	base := h.CanvasURLWithParams(params)
	return strings.TrimSuffix(base, "/") + "/session/" + sessionID
}

// SignedSessionURL returns a canvas session URL carrying a signed access
// token scoped to sessionID and role. Fails if no token secret is
// configured — callers should fall back to CanvasSessionURL.
func (h *Host) SignedSessionURL(params CanvasURLParams, sessionID, role string) (string, error) {
	if len(h.tokenSecret) == 0 {
		return "", ErrTokenInvalid
	}
	token := AccessToken{SessionID: sessionID, Role: NormalizeRole(role)}
	if h.tokenTTL > 0 {
		token.ExpiresAt = time.Now().Add(h.tokenTTL).Unix()
	}
	signed, err := SignAccessToken(h.tokenSecret, token)
	if err != nil {
		return "", err
	}
	base := h.CanvasSessionURL(params, sessionID)
	return base + "?token=" + signed, nil
}

func (h *Host) canvasHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusMethodNotAllowed)
			_, _ = w.Write([]byte("Method Not Allowed"))
			return
		}
		clean := path.Clean("/" + strings.TrimPrefix(r.URL.Path, "/"))
		if strings.HasPrefix(clean, "/..") {
			http.NotFound(w, r)
			return
		}
		fullPath, err := h.resolveFilePath(clean)
		if err != nil {
			if clean == "/" || strings.HasSuffix(clean, "/") {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte("<!doctype html><meta charset=\"utf-8\" /><title>Beacon Canvas</title><pre>Missing file. Create index.html</pre>"))
				return
			}
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, fullPath)
	})
}

func (h *Host) ensureRoot() error {
	info, err := os.Stat(h.root)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(h.root, 0o755)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("canvas root is not a directory: %s", h.root)
	}
	return nil
}

func (h *Host) ensureIndex(dir string) {
	if strings.TrimSpace(dir) == "" {
		return
	}
	indexPath := filepath.Join(dir, "index.html")
	if _, err := os.Stat(indexPath); err == nil {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		h.logger.Warn("failed to create canvas directory", "path", dir, "error", err)
		return
	}
	if err := os.WriteFile(indexPath, []byte(defaultIndexHTML), 0o644); err != nil {
		h.logger.Warn("failed to write canvas index", "path", indexPath, "error", err)
	}
}

func (h *Host) canvasPrefix() string {
	return h.namespacedPath("canvas")
}

func (h *Host) namespacedPath(suffix string) string {
	suffix = strings.TrimPrefix(suffix, "/")
	if h.namespace == "/" {
		return "/" + suffix
	}
	return h.namespace + "/" + suffix
}

func trimHostBrackets(value string) string {
	if strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]") {
		return strings.TrimSuffix(strings.TrimPrefix(value, "["), "]")
	}
	return value
}

func isLoopbackHost(value string) bool {
	normalized := strings.ToLower(strings.TrimSpace(trimHostBrackets(value)))
	if normalized == "" {
		return false
	}
	switch normalized {
	case "localhost", "::1", "0.0.0.0", "::":
		return true
	}
	return strings.HasPrefix(normalized, "127.")
}

func normalizeHost(value string, rejectLoopback bool) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if rejectLoopback && isLoopbackHost(trimmed) {
		return ""
	}
	return trimmed
}

func parseHostHeader(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if idx := strings.LastIndex(trimmed, ":"); idx != -1 && !strings.Contains(trimmed, "]") {
		if _, err := strconv.Atoi(trimmed[idx+1:]); err == nil {
			trimmed = trimmed[:idx]
		}
	}
	return trimHostBrackets(trimmed)
}

func firstForwardedProto(value string) string {
	if value == "" {
		return ""
	}
	parts := strings.Split(value, ",")
	return strings.TrimSpace(parts[0])
}

func normalizeNamespace(namespace string) string {
	clean := strings.TrimSpace(namespace)
	if clean == "" {
		clean = "/__beacon__"
	}
	if !strings.HasPrefix(clean, "/") {
		clean = "/" + clean
	}
	clean = strings.TrimRight(clean, "/")
	if clean == "" {
		clean = "/"
	}
	return clean
}

func (h *Host) resolveFilePath(urlPath string) (string, error) {
	rootReal := strings.TrimSpace(h.rootReal)
	if rootReal == "" {
		rootReal = h.root
		if resolved, err := filepath.EvalSymlinks(h.root); err == nil {
			rootReal = resolved
		}
	}

	normalized := path.Clean("/" + strings.TrimPrefix(urlPath, "/"))
	if strings.HasPrefix(normalized, "/..") {
		return "", os.ErrNotExist
	}
	rel := strings.TrimPrefix(normalized, "/")
	candidate := filepath.Join(h.root, filepath.FromSlash(rel))

	info, err := os.Stat(candidate)
	if err == nil && info.IsDir() {
		if h.autoIndex {
			h.ensureIndex(candidate)
		}
		candidate = filepath.Join(candidate, "index.html")
	}

	lstat, err := os.Lstat(candidate)
	if err != nil {
		return "", err
	}
	if lstat.Mode()&os.ModeSymlink != 0 {
		return "", os.ErrNotExist
	}
	realPath, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return "", err
	}

	rootReal = filepath.Clean(rootReal)
	realPath = filepath.Clean(realPath)
	rootPrefix := rootReal
	if !strings.HasSuffix(rootPrefix, string(os.PathSeparator)) {
		rootPrefix += string(os.PathSeparator)
	}
	if realPath != rootReal && !strings.HasPrefix(realPath, rootPrefix) {
		return "", os.ErrNotExist
	}
	return realPath, nil
}
