package mockapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/milan604/jsonapi-client/pkg/logger"
	"github.com/milan604/jsonapi-client/pkg/observability"
)

// Server is the mock user API.
type Server struct {
	engine *gin.Engine
	log    logger.LogManager
	tokens *tokenIssuer
	rotate atomic.Bool
	users  *userStore

	credsMu sync.RWMutex
	creds   map[string]string

	shutdownTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the access and application logger.
func WithLogger(l logger.LogManager) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSecret sets the HS256 signing secret.
func WithSecret(secret string) Option {
	return func(s *Server) { s.tokens.secret = []byte(secret) }
}

// WithTokenTTL sets how long issued tokens stay valid.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Server) { s.tokens.ttl = ttl }
}

// WithTokenRotation answers each authorized request with a fresh token in
// X-Authorization.
func WithTokenRotation(enabled bool) Option {
	return func(s *Server) { s.rotate.Store(enabled) }
}

// WithAccount adds a login account.
func WithAccount(username, password string) Option {
	return func(s *Server) { s.SetAccount(username, password) }
}

// WithUser seeds a user record.
func WithUser(id int, u UserInfo) Option {
	return func(s *Server) { s.users.put(id, u) }
}

// WithClock replaces time.Now for token issue and validation.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.tokens.now = now }
}

var registerTagNames sync.Once

// New builds the API with a demo account ("demo"/"demo") and user 7.
func New(opts ...Option) *Server {
	registerTagNames.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterTagNameFunc(jsonFieldName)
		}
	})

	s := &Server{
		log:             logger.NewNop(),
		tokens:          &tokenIssuer{secret: []byte("mockapi-dev-secret"), ttl: time.Hour, now: time.Now},
		creds:           map[string]string{"demo": "demo"},
		users:           newUserStore(),
		shutdownTimeout: 15 * time.Second,
	}
	s.users.put(7, UserInfo{Age: 33, Count: 11, Name: "Demo User"})
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(
		requestID(),
		compress(),
		accessLog(s.log),
		observability.GinMiddleware("mockapi"),
		recovery(s.log),
	)

	engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, ResponseStatus{Success: true}) })
	engine.POST("/login", s.login)

	authed := engine.Group("/", s.requireBearer())
	authed.GET("/users/:id", s.getUser)
	authed.POST("/users", s.putUser)

	s.engine = engine
	return s
}

// SetTokenRotation switches token rotation on a running server.
func (s *Server) SetTokenRotation(enabled bool) {
	if s.rotate.Swap(enabled) != enabled {
		s.log.InfoF("token rotation set to %t", enabled)
	}
}

// SetAccount adds or replaces a login account on a running server. An empty
// password removes the account.
func (s *Server) SetAccount(username, password string) {
	s.credsMu.Lock()
	defer s.credsMu.Unlock()
	if password == "" {
		delete(s.creds, username)
		return
	}
	s.creds[username] = password
}

func (s *Server) checkPassword(username, password string) bool {
	s.credsMu.RLock()
	defer s.credsMu.RUnlock()
	want, ok := s.creds[username]
	return ok && want == password
}

// Handler exposes the engine, e.g. for httptest.
func (s *Server) Handler() http.Handler { return s.engine }

// IssueToken signs a token for subject as /login would.
func (s *Server) IssueToken(subject string) (string, error) {
	return s.tokens.issue(subject)
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.InfoF("mock API listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.InfoF("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.ErrorF("server shutdown error: %v", err)
		return err
	}
	s.log.InfoF("server stopped gracefully")
	return nil
}

func jsonFieldName(f reflect.StructField) string {
	for _, tag := range []string{"json", "uri"} {
		name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return f.Name
}
