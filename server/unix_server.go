package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
)

// UnixServer is aegis-gatewayd's advocate control plane: an HTTP server
// listening on a Unix domain socket, reachable only by local processes,
// that the advocate-cli uses to review and resolve pending break-glass
// events (spec §6's breakglass.* verbs). Authentication rides on the
// socket's own peer credentials rather than a second secret.
type UnixServer struct {
	listener      net.Listener
	socketPath    string
	server        http.Server
	authenticator *AdvocateSessionAuthenticator

	// mu protects cleanup state
	mu      sync.Mutex
	cleaned bool
}

// UnixServerConfig contains configuration for UnixServer.
type UnixServerConfig struct {
	// SocketPath is the path for the Unix domain socket.
	// If empty, a temporary socket in os.TempDir() is created.
	SocketPath string

	// SocketMode is the file mode for the socket (default: 0600).
	SocketMode os.FileMode

	// Handler is the HTTP handler to serve.
	Handler http.Handler

	// AllowFallback is not read by NewUnixServer. Whether a token works
	// without peer credentials (TCP fallback) is set per token by the
	// allowFallback argument of GenerateToken/RegisterToken.
	AllowFallback bool

	// BoundUID is not read by NewUnixServer. Each token's UID comes from
	// the uid argument of GenerateToken/RegisterToken.
	BoundUID uint32
}

// NewUnixServer creates a new Unix domain socket server.
func NewUnixServer(ctx context.Context, config UnixServerConfig) (*UnixServer, error) {
	socketPath := config.SocketPath
	if socketPath == "" {
		// Create temporary socket
		socketPath = filepath.Join(os.TempDir(), fmt.Sprintf("aegis-gatewayd-%d.sock", os.Getpid()))
	}

	// Remove existing socket if it exists
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}

	// Create Unix socket listener
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create Unix listener: %w", err)
	}

	// Set socket permissions (default: owner only)
	mode := config.SocketMode
	if mode == 0 {
		mode = 0600
	}
	if err := os.Chmod(socketPath, mode); err != nil {
		listener.Close()
		os.Remove(socketPath)
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}

	authenticator := NewAdvocateSessionAuthenticator()

	us := &UnixServer{
		listener:      listener,
		socketPath:    socketPath,
		authenticator: authenticator,
	}

	us.server = http.Server{
		Handler: config.Handler,
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			// Store connection in context for later retrieval
			return context.WithValue(ctx, connContextKey{}, c)
		},
	}

	return us, nil
}

// connContextKey is the context key for storing the connection.
type connContextKey struct{}

// GetConnFromRequest retrieves the net.Conn from an HTTP request's context.
// This is used by handlers to get peer credentials.
func GetConnFromRequest(r *http.Request) net.Conn {
	if conn, ok := r.Context().Value(connContextKey{}).(net.Conn); ok {
		return conn
	}
	return nil
}

// SocketPath returns the path to the Unix socket.
func (us *UnixServer) SocketPath() string {
	return us.socketPath
}

// SocketURL returns the URL for connecting to this server.
// Format: unix:///path/to/socket
func (us *UnixServer) SocketURL() string {
	return fmt.Sprintf("unix://%s", us.socketPath)
}

// Authenticator returns the advocate session authenticator for token management.
func (us *UnixServer) Authenticator() *AdvocateSessionAuthenticator {
	return us.authenticator
}

// Serve starts serving HTTP requests. This call blocks.
func (us *UnixServer) Serve() error {
	return us.server.Serve(us.listener)
}

// Shutdown gracefully shuts down the server.
func (us *UnixServer) Shutdown(ctx context.Context) error {
	us.mu.Lock()
	defer us.mu.Unlock()

	if us.cleaned {
		return nil
	}

	err := us.server.Shutdown(ctx)

	// Clean up socket file
	if rmErr := os.Remove(us.socketPath); rmErr != nil && !os.IsNotExist(rmErr) {
		log.Printf("Warning: failed to remove socket file: %v", rmErr)
	}

	us.cleaned = true
	return err
}

// WithAdvocateSessionAuth wraps the break-glass control-plane handlers
// (breakglass.verify_otp, verify_liveness, deny, pending) with peer-credential
// authentication, so only the advocate-cli process that opened the control
// socket's session can resolve escalations over it.
func WithAdvocateSessionAuth(authenticator *AdvocateSessionAuthenticator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn := GetConnFromRequest(r)
		if conn == nil {
			log.Printf("ERROR: No connection context available for advocate session auth")
			writeErrorMessage(w, "Authentication failed", http.StatusInternalServerError)
			return
		}

		token, err := authenticator.ValidateRequest(r, conn)
		if err != nil {
			log.Printf("SECURITY: advocate session auth failed: %v", err)
			writeErrorMessage(w, "invalid Authorization token", http.StatusForbidden)
			return
		}

		// Add token info to request context for handlers
		ctx := context.WithValue(r.Context(), advocateSessionContextKey{}, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// advocateSessionContextKey is the context key for storing the validated token.
type advocateSessionContextKey struct{}

// GetAdvocateSessionTokenFromContext retrieves the validated AdvocateSessionToken from request context.
func GetAdvocateSessionTokenFromContext(ctx context.Context) *AdvocateSessionToken {
	if token, ok := ctx.Value(advocateSessionContextKey{}).(*AdvocateSessionToken); ok {
		return token
	}
	return nil
}
