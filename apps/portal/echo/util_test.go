package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"

	"github.com/athenalms/portal/backend"
	"github.com/athenalms/portal/core"
	"github.com/athenalms/portal/core/credits"
	"github.com/athenalms/portal/core/event"
	"github.com/athenalms/portal/core/session"
	"github.com/athenalms/portal/storage/credstore"
)

// fakeAthena is an httptest stand-in for the external Athena backend API.
type fakeAthena struct {
	mu         sync.Mutex
	profiles   map[string]backend.Profile // token -> profile
	balances   map[string]float64         // user id -> balance
	membership map[string]string          // user id -> raw membership JSON
	profileErr *backend.APIError
}

func newFakeAthena() *fakeAthena {
	return &fakeAthena{
		profiles:   make(map[string]backend.Profile),
		balances:   make(map[string]float64),
		membership: make(map[string]string),
	}
}

func (f *fakeAthena) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	switch {
	case path == "/users/me":
		if f.profileErr != nil {
			w.WriteHeader(f.profileErr.StatusCode)
			json.NewEncoder(w).Encode(map[string]string{"error": f.profileErr.Message})
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		prof, ok := f.profiles[token]
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "token expired"})
			return
		}
		json.NewEncoder(w).Encode(prof)

	case strings.HasPrefix(path, "/users/") && strings.HasSuffix(path, "/avatar"):
		w.WriteHeader(http.StatusOK)

	case strings.HasPrefix(path, "/payment-order/credits/balance/"):
		userID := strings.TrimPrefix(path, "/payment-order/credits/balance/")
		json.NewEncoder(w).Encode(map[string]float64{"balance": f.balances[userID]})

	case strings.HasPrefix(path, "/payment-order/membership/status/"):
		userID := strings.TrimPrefix(path, "/payment-order/membership/status/")
		raw, ok := f.membership[userID]
		if !ok {
			raw = "null"
		}
		w.Write([]byte(raw))

	case path == "/payment-order/unlock":
		var req backend.UnlockRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.balances[req.UserID] -= req.CreditsSpent
		json.NewEncoder(w).Encode(map[string]bool{"ok": true})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type testEnv struct {
	server  Server
	athena  *fakeAthena
	conf    *core.Config
	creds   *credstore.Resolver
	bus     *event.Bus
	sessMgr *session.Manager
	credMgr *credits.Manager
}

func setup(t *testing.T, tweak ...func(*core.Config)) *testEnv {
	t.Helper()

	athena := newFakeAthena()
	athenaSrv := httptest.NewServer(http.HandlerFunc(athena.handle))
	t.Cleanup(athenaSrv.Close)

	conf := &core.Config{
		AppName:          "Athena Portal",
		TestMode:         true,
		BackendBaseURL:   athenaSrv.URL,
		BackendTimeout:   5 * time.Second,
		FrontendBaseURL:  "http://front",
		LoginPath:        "/login",
		UnauthorizedPath: "/unauthorized",
		Session: core.SessionConfig{
			GuardTimeout:        2 * time.Second,
			LoginSettleDelay:    time.Millisecond,
			LogoutRedirectDelay: 5 * time.Millisecond,
		},
		Credits: core.CreditsConfig{SimulatedLatency: 0},
	}
	for _, fn := range tweak {
		fn(conf)
	}

	creds := credstore.NewResolver(credstore.NewMemoryStore())
	bus := event.NewBus()
	logger := core.NopLogger{}
	client := backend.NewClient(conf, creds, logger)
	roles := session.NewRoleStore()
	sessMgr := session.NewManager(conf, client, creds, bus, logger, roles)
	t.Cleanup(sessMgr.Close)
	credMgr := credits.NewManager(conf, client, logger)

	// mirror the production wiring: credits follow the signed-in user id
	bus.Subscribe(event.TopicUserProfileUpdated, func(evt event.Event) {
		if id, ok := evt.Detail["user_id"].(string); ok {
			credMgr.SetUser(context.Background(), id)
		}
	})
	bus.Subscribe(event.TopicUserLoggedOut, func(event.Event) {
		credMgr.SetUser(context.Background(), "")
	})

	validate, translator := core.NewValidator()

	srv := NewServer(&Options{
		DisableReqLogs: true,
		Conf:           conf,
		Logger:         logger,
		Bus:            bus,
		Creds:          creds,
		SessionMgr:     sessMgr,
		CreditsMgr:     credMgr,
		Validate:       validate,
		Translator:     translator,
	})

	return &testEnv{
		server:  srv,
		athena:  athena,
		conf:    conf,
		creds:   creds,
		bus:     bus,
		sessMgr: sessMgr,
		credMgr: credMgr,
	}
}

// signIn mints a token, registers the profile on the fake backend, stores
// the credential and loads the session.
func (env *testEnv) signIn(t *testing.T, userID string, roles ...string) string {
	t.Helper()
	token := getToken(t, userID)

	userRoles := make([]backend.ProfileRole, 0, len(roles))
	for _, role := range roles {
		userRoles = append(userRoles, backend.ProfileRole{Role: role})
	}
	env.athena.mu.Lock()
	env.athena.profiles[token] = backend.Profile{ID: userID, Name: "Test User", UserRoles: userRoles}
	env.athena.mu.Unlock()

	if err := env.creds.SetToken(context.Background(), token); err != nil {
		t.Fatalf("signIn() failed: %v", err)
	}
	env.sessMgr.Load(context.Background())
	return token
}

func getToken(t *testing.T, userID string) string {
	claims := jwt.StandardClaims{
		Subject:  userID,
		IssuedAt: time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return ss
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	return req, rec
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}
