package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"pipelinewatch/internal/config"
	"pipelinewatch/internal/logging"
	"pipelinewatch/internal/monitor"
	"pipelinewatch/internal/navigation"
)

var (
	ErrNoCredentials = errors.New("no credentials configured")
	ErrSignedOut     = fmt.Errorf("session signed out: %w", monitor.ErrReauthSkipped)
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNoToken       = errors.New("login response carried no access token")
)

// Info is a snapshot of the session used to derive navigation.
type Info struct {
	Deployment    string `json:"deployment,omitempty"`
	Authenticated bool   `json:"authenticated"`
	Email         string `json:"email,omitempty"`
	Role          string `json:"role,omitempty"`
	SuperUser     bool   `json:"super_user"`
	ViewMode      string `json:"view_mode,omitempty"`
}

// Session owns the access token for one deployment and hands out clients.
type Session struct {
	creds  config.Auth
	http   *http.Client
	logger logging.Logger

	// loginMu serializes login round trips.
	loginMu sync.Mutex

	mu         sync.RWMutex
	epoch      uint64
	deployment string
	token      string
	email      string
	superUser  bool
	signedOut  bool
	viewMode   string
}

// New creates a session for deployment. An empty deployment means not configured.
func New(deployment string, creds config.Auth, timeout time.Duration, logger logging.Logger) *Session {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Session{
		creds:      creds,
		http:       NewHTTPClient(timeout),
		logger:     logger,
		deployment: strings.TrimSuffix(strings.TrimSpace(deployment), "/"),
	}
}

// SetDeployment points the session at another deployment and drops the token.
func (s *Session) SetDeployment(deployment string) {
	deployment = strings.TrimSuffix(strings.TrimSpace(deployment), "/")
	s.mu.Lock()
	defer s.mu.Unlock()
	if deployment == s.deployment {
		return
	}
	s.deployment = deployment
	s.epoch++
	s.token = ""
	s.email = ""
	s.superUser = false
}

// Deployment returns the configured deployment reference.
func (s *Session) Deployment() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deployment
}

// Handle returns a client for the deployment. It returns nil when no
// deployment is configured or the user signed out. With credentials and no
// token yet, it logs in first; a login failure is returned as an error.
func (s *Session) Handle(ctx context.Context) (monitor.Handle, error) {
	s.mu.RLock()
	deployment, token, signedOut := s.deployment, s.token, s.signedOut
	s.mu.RUnlock()

	if deployment == "" || signedOut {
		return nil, nil
	}
	if token == "" && s.hasCredentials() {
		var err error
		deployment, token, err = s.ensureToken(ctx)
		if errors.Is(err, ErrSignedOut) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
	}
	return &Client{baseURL: deployment, token: token, http: s.http}, nil
}

// ensureToken logs in unless a concurrent caller already did.
func (s *Session) ensureToken(ctx context.Context) (string, string, error) {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()

	s.mu.RLock()
	deployment, token, signedOut := s.deployment, s.token, s.signedOut
	s.mu.RUnlock()
	if signedOut {
		return "", "", ErrSignedOut
	}
	if token != "" {
		return deployment, token, nil
	}
	return s.login(ctx)
}

// Login authenticates with the configured credentials and loads the user
// profile. It is the only way back in after Logout.
func (s *Session) Login(ctx context.Context) error {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()

	s.mu.Lock()
	s.signedOut = false
	s.mu.Unlock()
	_, _, err := s.login(ctx)
	return err
}

// Reauthenticate drops the token and logs in again. It is skipped after an
// explicit sign-out.
func (s *Session) Reauthenticate(ctx context.Context) error {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()

	s.mu.Lock()
	if s.signedOut {
		s.mu.Unlock()
		return ErrSignedOut
	}
	s.token = ""
	s.mu.Unlock()
	_, _, err := s.login(ctx)
	return err
}

// login runs the login round trip with loginMu held. The result is dropped
// when Logout or SetDeployment ran in the meantime.
func (s *Session) login(ctx context.Context) (string, string, error) {
	if !s.hasCredentials() {
		return "", "", ErrNoCredentials
	}
	s.mu.RLock()
	deployment, epoch := s.deployment, s.epoch
	s.mu.RUnlock()
	if deployment == "" {
		return "", "", errors.New("no deployment configured")
	}

	client := &Client{baseURL: deployment, http: s.http}
	token, err := client.login(ctx, s.creds.Email, s.creds.Password)
	if err != nil {
		return "", "", err
	}
	client.token = token

	superUser := false
	email := s.creds.Email
	if me, err := client.me(ctx); err != nil {
		s.logger.WithError(err).Warn("failed to load user profile")
	} else {
		superUser = me.Results.IsSuperuser
		if me.Results.Email != "" {
			email = me.Results.Email
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signedOut {
		return "", "", ErrSignedOut
	}
	if s.epoch != epoch {
		return "", "", errors.New("deployment changed during login")
	}
	s.token = token
	s.email = email
	s.superUser = superUser
	s.logger.WithField("deployment", deployment).Info("authenticated with deployment")
	return deployment, token, nil
}

// Logout forgets the token. Handle returns nil until the next Login, and a
// login already in flight is discarded.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.token = ""
	s.email = ""
	s.superUser = false
	s.signedOut = true
	s.viewMode = ""
}

// SetViewMode lets an admin preview the dashboard as a regular user ("user"),
// or return to the role-derived view ("").
func (s *Session) SetViewMode(mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewMode = strings.TrimSpace(mode)
}

// Info returns a snapshot of the session state.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		Deployment:    s.deployment,
		Authenticated: s.token != "",
		Email:         s.email,
		SuperUser:     s.superUser,
		ViewMode:      s.viewMode,
	}
	if info.Authenticated {
		info.Role = navigation.RoleUser
		if s.superUser {
			info.Role = navigation.RoleAdmin
		}
	}
	return info
}

func (s *Session) hasCredentials() bool {
	return s.creds.Email != "" && s.creds.Password != ""
}
