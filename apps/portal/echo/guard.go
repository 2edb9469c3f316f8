package echoapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/athenalms/portal/core"
	"github.com/athenalms/portal/core/event"
	"github.com/athenalms/portal/core/session"
	"github.com/athenalms/portal/storage/credstore"
)

const reasonSessionExpired = "session_expired"

// Guard decides whether a requested page may render for the current
// session. Per request it resolves, in order: still checking (bounded by
// the guard timeout), session error, unauthenticated, authenticated without
// a profile, role check, and finally the guarded content.
//
// With no required roles, any authenticated user passes.
type Guard struct {
	conf  *core.Config
	log   core.Logger
	mgr   *session.Manager
	creds *credstore.Resolver

	requiredRoles []string

	mu       sync.Mutex
	logoutCh chan struct{}
}

func NewGuard(opts *Options, requiredRoles ...string) *Guard {
	g := &Guard{
		conf:          opts.Conf,
		log:           opts.Logger,
		mgr:           opts.SessionMgr,
		creds:         opts.Creds,
		requiredRoles: requiredRoles,
		logoutCh:      make(chan struct{}),
	}
	// a logout broadcast ends any wait promptly instead of riding out
	// the timeout
	opts.Bus.Subscribe(event.TopicUserLoggedOut, func(event.Event) { g.signalLogout() })
	return g
}

func (g *Guard) signalLogout() {
	g.mu.Lock()
	close(g.logoutCh)
	g.logoutCh = make(chan struct{})
	g.mu.Unlock()
}

func (g *Guard) logoutChan() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.logoutCh
}

func (g *Guard) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			req := ctx.Request()
			from := req.URL.RequestURI()

			// 1. Checking: wait out the combined loading state
			timer := time.NewTimer(g.conf.Session.GuardTimeout)
			defer timer.Stop()

			awaited := make(chan error, 1)
			go func() { awaited <- g.mgr.Await(req.Context()) }()

			select {
			case err := <-awaited:
				if err != nil { // client went away
					return err
				}
			case <-g.logoutChan():
				// session ended while we waited; resolve takes the
				// unauthenticated path below
			case <-timer.C:
				// 2. Timeout: treat as an expired session
				g.log.Warn("session resolution timed out", map[string]interface{}{"from": from})
				return g.expireSession(ctx, from)
			}

			return g.resolve(ctx, next, g.mgr.Snapshot(), from)
		}
	}
}

// resolve maps a settled session snapshot to a page decision.
func (g *Guard) resolve(ctx echo.Context, next echo.HandlerFunc, snap session.State, from string) error {
	switch {
	case snap.Err != nil:
		// 2. Error: same escalation as a timeout
		return g.expireSession(ctx, from)

	case !snap.Authenticated():
		// 3. Unauthenticated: redirect with the return path
		return ctx.Redirect(http.StatusFound, g.conf.LoginURL(from, ""))

	case snap.Profile == nil:
		// 4. Inconsistent: authenticated but no profile. Automatic
		// retry is unlikely to fix this; hand the user a manual way out.
		return ctx.JSON(http.StatusConflict, echo.Map{
			"error":     "session is in an inconsistent state",
			"action":    "login",
			"login_url": g.conf.LoginURL("", ""),
		})

	case !snap.Profile.HasAnyRole(g.requiredRoles):
		// 5. Role check failed: policy redirect, not an error
		return ctx.Redirect(http.StatusFound, g.conf.UnauthorizedURL())
	}

	// 6. Authorized
	return next(ctx)
}

// expireSession wipes every credential location and redirects to login with
// the expiry reason. Wiping is idempotent; other call sites may already
// have done it.
func (g *Guard) expireSession(ctx echo.Context, from string) error {
	if err := g.creds.Clear(ctx.Request().Context()); err != nil {
		g.log.Error("clearing credentials", err)
	}
	return ctx.Redirect(http.StatusFound, g.conf.LoginURL(from, reasonSessionExpired))
}
