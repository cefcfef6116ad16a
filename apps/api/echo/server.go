package echoapi

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tabiasoft/orodha/core"
	"github.com/tabiasoft/orodha/core/learner"
)

type (
	// Listener receives each validated inbound event after the HTTP response
	// is on its way back.
	Listener func(evt learner.Event)

	Options struct {
		Conf           *core.Config
		Logger         core.Logger
		Listener       Listener
		DisableReqLogs bool

		// HealthCheck, when set, is consulted by the health endpoint; a
		// shutdown error returned from it triggers Shutdown via the error
		// handler.
		HealthCheck func() error

		// Shutdown is called when an unrecoverable error is caught, so the
		// app can exit cleanly instead of limping along.
		Shutdown func()
	}

	Server interface {
		http.Handler
		Start() error
		Stop(context.Context) error
	}

	server struct {
		opts *Options
		app  *echo.Echo
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	if opts.Shutdown == nil {
		opts.Shutdown = func() {}
	}
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

	validate, _ := core.NewValidator()

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.opts.Shutdown)
	s.app.Debug = conf.Debug
	s.app.HideBanner = true

	s.app.GET("/", s.home)
	s.app.GET("/health", s.health)
	s.app.GET("/metrics", s.metrics)

	registerWebhookAPI(s.app.Group(""), conf, s.opts.Logger, s.opts.Listener, validate)
}

func (s *server) Start() error {
	return s.app.Start(s.opts.Conf.Server.Addr())
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.opts.Conf.AppName+" API!")
}

func (s *server) health(ctx echo.Context) error {
	if s.opts.HealthCheck != nil {
		if err := s.opts.HealthCheck(); err != nil {
			return err
		}
	}
	conf := s.opts.Conf
	return ctx.JSON(http.StatusOK, echo.Map{
		"status":          "healthy",
		"service":         conf.AppName,
		"port":            conf.Server.Port,
		"authentication":  conf.Webhook.APIKey != "",
		"hmac_validation": conf.Webhook.HMACSecret != "",
	})
}

// metrics prefixes the prometheus exposition with the registered endpoints as
// comment lines; scrapers skip them, humans get the route map for free.
func (s *server) metrics(ctx echo.Context) error {
	routes := make([]string, 0, len(s.app.Routes()))
	for _, route := range s.app.Routes() {
		routes = append(routes, route.Method+" "+route.Path)
	}
	sort.Strings(routes)

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/plain; version=0.0.4; charset=utf-8")
	res.WriteHeader(http.StatusOK)
	for _, route := range routes {
		fmt.Fprintf(res, "# endpoint: %s\n", route)
	}

	// the exposition follows the comments uncompressed
	req := ctx.Request().Clone(ctx.Request().Context())
	req.Header.Del("Accept-Encoding")
	promhttp.Handler().ServeHTTP(res, req)
	return nil
}
