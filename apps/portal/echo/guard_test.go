package echoapi

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/athenalms/portal/backend"
	"github.com/athenalms/portal/core"
	"github.com/athenalms/portal/core/event"
	"github.com/athenalms/portal/core/session"
)

func redirectTarget(t *testing.T, rec interface{ Header() http.Header }) *url.URL {
	t.Helper()
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parsing Location failed: %v", err)
	}
	return loc
}

func TestGuard_unauthenticatedRedirectsWithReturnPath(t *testing.T) {
	env := setup(t)
	env.sessMgr.Load(context.Background()) // anonymous

	req, rec := newRequest(http.MethodGet, "/portal/home")
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	loc := redirectTarget(t, rec)
	assert.Equal(t, "/login", loc.Path)
	assert.Equal(t, "/portal/home", loc.Query().Get("next"))
	assert.Empty(t, loc.Query().Get("reason"))
}

func TestGuard_authenticatedUserPasses(t *testing.T) {
	env := setup(t)
	env.signIn(t, "u1", "user")

	req, rec := newRequest(http.MethodGet, "/portal/home")
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"page":"home"}`, rec.Body.String())
}

func TestGuard_roleGating(t *testing.T) {
	tests := []struct {
		name      string
		roles     []string
		wantCode  int
		wantWhere string
	}{
		{"instructor is not admin", []string{"instructor"}, http.StatusFound, "/unauthorized"},
		{"admin passes", []string{"admin", "instructor"}, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setup(t)
			env.signIn(t, "u1", tt.roles...)

			req, rec := newRequest(http.MethodGet, "/portal/admin")
			env.server.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantWhere != "" {
				assert.Equal(t, tt.wantWhere, redirectTarget(t, rec).Path)
			}
		})
	}
}

func TestGuard_timeoutExpiresSessionAndClearsCredentials(t *testing.T) {
	env := setup(t, func(conf *core.Config) {
		conf.Session.GuardTimeout = 25 * time.Millisecond
	})
	// the session manager never resolves: the guard has to time out
	assert.NoError(t, env.creds.SetToken(context.Background(), "tok"))

	req, rec := newRequest(http.MethodGet, "/portal/home")
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	loc := redirectTarget(t, rec)
	assert.Equal(t, "/login", loc.Path)
	assert.Equal(t, "session_expired", loc.Query().Get("reason"))
	assert.Equal(t, "/portal/home", loc.Query().Get("next"))

	tok, err := env.creds.Token(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, tok, "timeout wipes every credential location")
}

func TestGuard_profileLoadErrorExpiresSession(t *testing.T) {
	env := setup(t)
	env.athena.mu.Lock()
	env.athena.profileErr = &backend.APIError{StatusCode: http.StatusBadGateway, Message: "upstream down"}
	env.athena.mu.Unlock()

	assert.NoError(t, env.creds.SetToken(context.Background(), "tok"))
	env.sessMgr.Load(context.Background()) // records a non-auth load error

	req, rec := newRequest(http.MethodGet, "/portal/home")
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	loc := redirectTarget(t, rec)
	assert.Equal(t, "/login", loc.Path)
	assert.Equal(t, "session_expired", loc.Query().Get("reason"))
}

func TestGuard_logoutBroadcastEndsTheWaitPromptly(t *testing.T) {
	env := setup(t, func(conf *core.Config) {
		conf.Session.GuardTimeout = 5 * time.Second
	})
	// session stays unresolved; a logout lands mid-request
	go func() {
		time.Sleep(30 * time.Millisecond)
		env.bus.Publish(event.TopicUserLoggedOut, nil)
	}()

	start := time.Now()
	req, rec := newRequest(http.MethodGet, "/portal/home")
	env.server.ServeHTTP(rec, req)

	assert.Less(t, time.Since(start), 2*time.Second, "must not ride out the guard timeout")
	assert.Equal(t, http.StatusFound, rec.Code)
	loc := redirectTarget(t, rec)
	assert.Equal(t, "/login", loc.Path)
	assert.Empty(t, loc.Query().Get("reason"), "plain unauthenticated redirect, not session expiry")
}

func TestGuard_authenticatedWithoutProfileGetsRecoveryPayload(t *testing.T) {
	env := setup(t)
	guard := NewGuard(&Options{
		Conf:       env.conf,
		Logger:     core.NopLogger{},
		Bus:        env.bus,
		Creds:      env.creds,
		SessionMgr: env.sessMgr,
	})

	// a credential without a profile or error cannot come out of the
	// session manager today; the guard still has to answer for it
	snap := session.State{Token: "tok"}

	req, rec := newRequest(http.MethodGet, "/portal/home")
	ctx := echo.New().NewContext(req, rec)
	next := func(echo.Context) error { return ctx.NoContent(http.StatusOK) }

	assert.NoError(t, guard.resolve(ctx, next, snap, "/portal/home"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{
		"error": "session is in an inconsistent state",
		"action": "login",
		"login_url": "http://front/login"
	}`, rec.Body.String())
}

func TestGuard_anyAuthenticatedRolePassesWithoutRequiredRoles(t *testing.T) {
	env := setup(t)
	env.signIn(t, "u1") // no roles at all: highest role defaults to user

	req, rec := newRequest(http.MethodGet, "/portal/home")
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	snap := env.sessMgr.Snapshot()
	assert.Equal(t, session.RoleUser, snap.HighestRole)
}
