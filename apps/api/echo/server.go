package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/coursework"
	"github.com/trezcool/kazi/core/user"
)

type ServerDeps struct {
	Conf          *core.Config
	Logger        core.Logger
	UserSvc       user.ServiceInterface
	CourseworkSvc coursework.ServiceInterface
	Validate      *validator.Validate
	Translator    ut.Translator
}

// Server wraps an echo.Echo app and the channels used to stop it.
type Server struct {
	deps     ServerDeps
	app      *echo.Echo
	errors   chan error
	shutdown chan os.Signal
}

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.Debug = conf.Debug
	s.app.HideBanner = true
	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	if conf.Debug {
		s.app.Logger.SetLevel(log.DEBUG)
	}

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.Server.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	if !conf.Debug && !conf.TestMode {
		s.app.Use(middleware.Recover())
	}
	s.app.Use(metricsMiddleware())

	s.app.GET("/", home)

	v1 := s.app.Group("/v1")
	udg := v1.Group("/users/:dni", ctxUserMiddleware(s.deps.UserSvc))
	registerUserAPI(v1, udg, s.deps.UserSvc, s.deps.Validate)
	registerCourseworkAPI(v1, udg, s.deps.CourseworkSvc, s.deps.Validate)
}

// Start blocks until the server stops; failures are sent to Errors.
func (s *Server) Start() {
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	if err := s.app.Start(s.deps.Conf.Server.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // already signaled
	}
}

// Shutdown stops the server gracefully, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

// Close stops the server immediately.
func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to Kazi API :)")
}
