// Package httpapi implements the event form server: the embedded HTTP
// server that renders the create/edit event form, parses the
// submission, and redeems the one-time link behind it. Grounded on
// `original_source/event-web/src/lib.rs`'s route table and on the
// teacher's `server/router/frontend/service.go` for the surrounding
// echo wiring (gzip, cache headers, static serving).
package httpapi

import (
	"context"
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/asonix/eventbot/internal/domain"
)

// Broker is the subset of the Link Broker the form server needs.
type Broker interface {
	LookupEditEvent(ctx context.Context, linkID int32, plaintext string) (*domain.Event, error)
	RedeemNewEvent(ctx context.Context, linkID int32, plaintext string, create domain.CreateEvent) (*domain.Event, error)
	RedeemEditEvent(ctx context.Context, linkID int32, plaintext string, update domain.UpdateEvent) (*domain.Event, error)
}

// Scheduler is the subset of the Scheduler the form server needs, to
// place a just-created or just-edited event into the bucket rings
// without waiting for the next hourly tick.
type Scheduler interface {
	Edit(ctx context.Context, event domain.Event)
}

// Announcer is the subset of the Chat Gateway the form server needs,
// to post the "New Event!"/"Event Updated!" announcement immediately
// on redemption rather than waiting for the scheduler to notice it.
type Announcer interface {
	AnnounceNewEvent(ctx context.Context, event domain.Event) error
	AnnounceUpdatedEvent(ctx context.Context, event domain.Event) error
}

//go:embed assets
var embeddedAssets embed.FS

// Server is the event form server.
type Server struct {
	broker    Broker
	scheduler Scheduler
	announcer Announcer
	log       *slog.Logger
	tmpl      *templates
}

// New constructs a Server. defaultTimezone seeds the GET /events/new
// form's unfilled date fields, matching the original's use of the
// server's own clock in US/Central for form defaults.
func New(broker Broker, scheduler Scheduler, announcer Announcer, log *slog.Logger) *Server {
	return &Server{
		broker:    broker,
		scheduler: scheduler,
		announcer: announcer,
		log:       log,
		tmpl:      loadTemplates(),
	}
}

// Echo builds the echo instance and registers every route. Separated
// from Start so tests can drive it with httptest without binding a
// socket.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	assetSkipper := func(c echo.Context) bool {
		return !strings.HasPrefix(c.Path(), "/assets/")
	}
	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level:   5,
		Skipper: assetSkipper,
	}))

	// Content-hashed filenames aren't part of this server's asset
	// pipeline, so assets get a short, revalidate-on-expiry max-age
	// rather than the teacher's immutable/long-lived one.
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if strings.HasPrefix(c.Path(), "/assets/") && filepath.Ext(c.Path()) != "" {
				c.Response().Header().Set(echo.HeaderCacheControl, "public, max-age=3600")
			}
			return next(c)
		}
	})

	assetsSub, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		panic(err)
	}
	e.StaticFS("/assets", assetsSub)

	e.GET("/events/new/:token", s.newForm)
	e.POST("/events/new/:token", s.submitted)
	e.GET("/events/edit/:token", s.editForm)
	e.POST("/events/edit/:token", s.updated)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}

// Start runs the event form server until ctx is canceled.
func (s *Server) Start(ctx context.Context, addr string) error {
	e := s.Echo()

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(addr)
	}()

	select {
	case <-ctx.Done():
		return e.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// splitToken parses "{plaintext}={id}" by locating the last '=' in
// the path segment, per the link's own URL shape (linkbroker.url).
func splitToken(token string) (plaintext string, linkID int32, err error) {
	i := strings.LastIndex(token, "=")
	if i < 0 {
		return "", 0, errBadToken
	}
	n, err := strconv.ParseInt(token[i+1:], 10, 32)
	if err != nil {
		return "", 0, errBadToken
	}
	return token[:i], int32(n), nil
}

var errBadToken = echo.NewHTTPError(http.StatusBadRequest, "malformed link")
