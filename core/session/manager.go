package session

import (
	"context"
	"sync"
	"time"

	"github.com/athenalms/portal/backend"
	"github.com/athenalms/portal/core"
	"github.com/athenalms/portal/core/event"
	"github.com/athenalms/portal/storage/credstore"
)

// API is the slice of the backend client the session manager needs.
type API interface {
	GetProfile(ctx context.Context, token string) (backend.Profile, error)
	RefreshAvatar(ctx context.Context, userID string) error
}

var _ API = (*backend.Client)(nil)

// Manager resolves the current session: credential presence, profile load,
// derived role, and forced logout on auth failures. It re-loads on
// userLoggedIn broadcasts (after a settle delay) and on userRoleChanged
// broadcasts when no profile is held yet.
type Manager struct {
	conf  *core.Config
	api   API
	creds *credstore.Resolver
	bus   *event.Bus
	log   core.Logger
	roles *RoleStore

	mu     sync.RWMutex
	state  State
	ready  chan struct{} // closed whenever state.Loading is false
	unsubs []func()
}

func NewManager(
	conf *core.Config,
	api API,
	creds *credstore.Resolver,
	bus *event.Bus,
	log core.Logger,
	roles *RoleStore,
) *Manager {
	m := &Manager{
		conf:  conf,
		api:   api,
		creds: creds,
		bus:   bus,
		log:   log,
		roles: roles,
		state: State{Loading: true},
		ready: make(chan struct{}),
	}

	m.unsubs = append(m.unsubs,
		// a fresh credential was just written; let the write settle first
		bus.Subscribe(event.TopicUserLoggedIn, func(event.Event) {
			time.AfterFunc(conf.Session.LoginSettleDelay, func() {
				m.Load(context.Background())
			})
		}),
		// someone else changed roles; only refetch if we hold no profile
		bus.Subscribe(event.TopicUserRoleChanged, func(event.Event) {
			snap := m.Snapshot()
			if snap.Profile == nil && !snap.Loading {
				m.Load(context.Background())
			}
		}),
	)
	return m
}

// Start kicks off the initial load without blocking the caller.
func (m *Manager) Start(ctx context.Context) {
	go m.Load(ctx)
}

// Close drops the event subscriptions.
func (m *Manager) Close() {
	for _, unsub := range m.unsubs {
		unsub()
	}
}

// Snapshot returns the current session state.
func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Await blocks until the session finished resolving or ctx expires.
func (m *Manager) Await(ctx context.Context) error {
	m.mu.RLock()
	ready := m.ready
	m.mu.RUnlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Load resolves the credential and populates the profile.
// No credential found means anonymous: not an error, and no backend call.
func (m *Manager) Load(ctx context.Context) {
	m.beginLoad()

	token, err := m.creds.Token(ctx)
	if err != nil {
		m.log.Error("resolving credential", err)
		m.finishLoad(State{Err: err})
		return
	}
	if token == "" {
		m.finishLoad(State{})
		return
	}

	prof, err := m.api.GetProfile(ctx, token)
	if err != nil {
		if backend.IsAuthFailure(err) {
			m.forceLogout(ctx, err)
			return
		}
		m.log.Error("fetching profile", err)
		m.finishLoad(State{Token: token, Err: err})
		return
	}

	p := NewProfile(prof)
	highest := HighestRole(p.Roles)
	m.roles.Set(highest)
	m.finishLoad(State{Token: token, Profile: &p, HighestRole: highest})

	m.bus.Publish(event.TopicUserRoleChanged, map[string]interface{}{
		"user_id": p.ID,
		"role":    highest,
	})
	m.bus.Publish(event.TopicUserProfileUpdated, map[string]interface{}{
		"user_id": p.ID,
	})

	// best-effort; staleness here must never surface to the caller
	if err := m.api.RefreshAvatar(ctx, p.ID); err != nil {
		m.log.Warn("refreshing avatar", err)
	}
}

// Logout wipes credentials, resets state and broadcasts userLoggedOut.
func (m *Manager) Logout(ctx context.Context) {
	if err := m.creds.Clear(ctx); err != nil {
		m.log.Error("clearing credentials", err)
	}
	m.roles.Set(RoleUser)
	m.finishLoad(State{})
	m.bus.Publish(event.TopicUserLoggedOut, nil)
}

// forceLogout escalates an auth-classified profile failure: full credential
// wipe, logout broadcast, then a delayed collapse to the anonymous state so
// listeners get to react while the error is still observable.
func (m *Manager) forceLogout(ctx context.Context, cause error) {
	m.log.Warn("session invalid, forcing logout", cause)

	if err := m.creds.Clear(ctx); err != nil {
		m.log.Error("clearing credentials", err)
	}
	m.roles.Set(RoleUser)
	m.finishLoad(State{Err: cause})
	m.bus.Publish(event.TopicUserLoggedOut, nil)

	time.AfterFunc(m.conf.Session.LogoutRedirectDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		// only collapse the state this logout produced; a later load may
		// have replaced it in the meantime
		if m.state.Err == cause && !m.state.Loading {
			m.state = State{}
		}
	})
}

func (m *Manager) beginLoad() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Loading {
		m.state.Loading = true
		m.ready = make(chan struct{})
	}
}

func (m *Manager) finishLoad(st State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wasLoading := m.state.Loading
	st.Loading = false
	m.state = st
	if wasLoading {
		close(m.ready)
	}
}
