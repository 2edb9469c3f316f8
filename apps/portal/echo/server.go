package echoapi

import (
	"context"
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/athenalms/portal/core"
	"github.com/athenalms/portal/core/credits"
	"github.com/athenalms/portal/core/event"
	"github.com/athenalms/portal/core/session"
	"github.com/athenalms/portal/storage/credstore"
)

type (
	Options struct {
		Addr           string
		DisableReqLogs bool

		Conf       *core.Config
		Logger     core.Logger
		Bus        *event.Bus
		Creds      *credstore.Resolver
		SessionMgr *session.Manager
		CreditsMgr *credits.Manager
		Validate   *validator.Validate
		Translator ut.Translator
	}

	Server interface {
		http.Handler
		Start()
		Stop(context.Context) error
	}

	server struct {
		opts *Options
		app  *echo.Echo
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	s := &server{
		opts: opts,
		app:  echo.New(),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	conf := s.opts.Conf

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.opts.Translator, s.opts.SessionMgr)
	s.app.Debug = conf.Debug

	s.app.GET("/", home)

	v1 := s.app.Group("/v1")
	registerSessionAPI(v1, s.opts)
	registerCreditsAPI(v1, s.opts)

	// guarded portal surface; the pages themselves live in the frontend,
	// these groups exercise the guard for server-rendered entry points
	anyUser := NewGuard(s.opts)
	portal := s.app.Group("/portal", anyUser.Middleware())
	portal.GET("/home", portalHome)

	adminOnly := NewGuard(s.opts, session.RoleAdmin)
	admin := s.app.Group("/portal/admin", adminOnly.Middleware())
	admin.GET("", portalAdmin)
}

func (s *server) Start() {
	s.app.Logger.Fatal(s.app.Start(s.opts.Addr))
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to Athena Portal!")
}

func portalHome(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, echo.Map{"page": "home"})
}

func portalAdmin(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, echo.Map{"page": "admin"})
}
