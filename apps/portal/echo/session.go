package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/athenalms/portal/core"
	"github.com/athenalms/portal/core/event"
	"github.com/athenalms/portal/core/session"
	"github.com/athenalms/portal/storage/credstore"
)

type (
	sessionApi struct {
		mgr   *session.Manager
		creds *credstore.Resolver
		bus   *event.Bus
	}

	LoginRequest struct {
		Token string `json:"token"`
	}

	SessionResponse struct {
		Authenticated bool             `json:"authenticated"`
		Loading       bool             `json:"loading"`
		HighestRole   string           `json:"highest_role,omitempty"`
		Profile       *session.Profile `json:"profile"`
	}
)

func registerSessionAPI(g *echo.Group, opts *Options) {
	api := sessionApi{
		mgr:   opts.SessionMgr,
		creds: opts.Creds,
		bus:   opts.Bus,
	}

	sg := g.Group("/session")
	sg.GET("", api.retrieve)
	sg.POST("/login", api.login)
	sg.POST("/refresh", api.refresh)
	sg.POST("/logout", api.logout)
}

// Handlers

func (api *sessionApi) retrieve(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, newSessionResponse(api.mgr.Snapshot()))
}

// login records a fresh credential and broadcasts userLoggedIn; the session
// manager picks the broadcast up after the settle delay. The token may come
// from the request body or from the access-token cookie.
func (api *sessionApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}

	data.Token = core.CleanString(data.Token)

	reqCtx := ctx.Request().Context()
	if data.Token != "" {
		if err := api.creds.SetToken(reqCtx, data.Token); err != nil {
			return errors.Wrap(err, "storing credential")
		}
	} else if cookie, err := ctx.Cookie(credstore.KeyCookieToken); err == nil && cookie.Value != "" {
		if err := api.creds.SetCookieToken(reqCtx, cookie.Value); err != nil {
			return errors.Wrap(err, "mirroring cookie credential")
		}
	} else {
		return core.NewValidationError(errors.New("no credential provided"))
	}

	api.bus.Publish(event.TopicUserLoggedIn, nil)
	return ctx.JSON(http.StatusAccepted, echo.Map{"detail": "login accepted"})
}

func (api *sessionApi) refresh(ctx echo.Context) error {
	api.mgr.Load(ctx.Request().Context())
	return ctx.JSON(http.StatusOK, newSessionResponse(api.mgr.Snapshot()))
}

func (api *sessionApi) logout(ctx echo.Context) error {
	api.mgr.Logout(ctx.Request().Context())
	return ctx.NoContent(http.StatusNoContent)
}

func newSessionResponse(snap session.State) SessionResponse {
	return SessionResponse{
		Authenticated: snap.Authenticated(),
		Loading:       snap.Loading,
		HighestRole:   snap.HighestRole,
		Profile:       snap.Profile,
	}
}
