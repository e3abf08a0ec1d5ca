package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelinewatch/internal/config"
	"pipelinewatch/internal/monitor"
	"pipelinewatch/internal/navigation"
)

type fakeDeployment struct {
	healthStatus atomic.Int32
	logins       atomic.Int32
	superUser    bool
	password     string

	holdLogins   atomic.Bool
	loginStarted chan struct{}
	releaseLogin chan struct{}
}

func newFakeDeployment(t *testing.T) (*fakeDeployment, *httptest.Server) {
	t.Helper()
	fd := &fakeDeployment{
		password:     "change_me",
		loginStarted: make(chan struct{}),
		releaseLogin: make(chan struct{}),
	}
	fd.healthStatus.Store(http.StatusOK)

	mux := http.NewServeMux()
	mux.HandleFunc("/v3/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(fd.healthStatus.Load()))
		_, _ = w.Write([]byte(`{"results":{"message":"ok"}}`))
	})
	mux.HandleFunc("/v3/users/login", func(w http.ResponseWriter, r *http.Request) {
		fd.logins.Add(1)
		if fd.holdLogins.Load() {
			fd.loginStarted <- struct{}{}
			<-fd.releaseLogin
		}
		if r.Method != http.MethodPost || r.FormValue("password") != fd.password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": map[string]any{
				"access_token": map[string]any{"token": "tok-" + r.FormValue("username")},
			},
		})
	})
	mux.HandleFunc("/v3/users/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": map[string]any{"email": "admin@example.com", "is_superuser": fd.superUser},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fd, srv
}

var creds = config.Auth{Email: "admin@example.com", Password: "change_me"}

func TestHandleWithoutDeployment(t *testing.T) {
	s := New("", creds, time.Second, nil)
	h, err := s.Handle(context.Background())
	require.NoError(t, err)
	assert.Nil(t, h)
}

func TestHandleLogsInAndProbes(t *testing.T) {
	fd, srv := newFakeDeployment(t)
	fd.superUser = true
	s := New(srv.URL+"/", creds, time.Second, nil)

	h, err := s.Handle(context.Background())
	require.NoError(t, err)
	require.NotNil(t, h)
	require.NoError(t, h.Health(context.Background()))

	info := s.Info()
	assert.True(t, info.Authenticated)
	assert.Equal(t, navigation.RoleAdmin, info.Role)
	assert.True(t, info.SuperUser)
	assert.Equal(t, srv.URL, info.Deployment)

	_, err = s.Handle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), fd.logins.Load())
}

func TestHealthFailsOnServerError(t *testing.T) {
	fd, srv := newFakeDeployment(t)
	fd.healthStatus.Store(http.StatusServiceUnavailable)
	s := New(srv.URL, config.Auth{}, time.Second, nil)

	h, err := s.Handle(context.Background())
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Error(t, h.Health(context.Background()))
	assert.False(t, s.Info().Authenticated)
}

func TestHandleReturnsLoginError(t *testing.T) {
	fd, srv := newFakeDeployment(t)
	fd.password = "rotated"
	s := New(srv.URL, creds, time.Second, nil)

	h, err := s.Handle(context.Background())
	assert.Nil(t, h)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestReauthenticate(t *testing.T) {
	fd, srv := newFakeDeployment(t)
	s := New(srv.URL, creds, time.Second, nil)

	require.NoError(t, s.Reauthenticate(context.Background()))
	require.NoError(t, s.Reauthenticate(context.Background()))
	assert.Equal(t, int32(2), fd.logins.Load())
	assert.Equal(t, navigation.RoleUser, s.Info().Role)
}

func TestReauthenticateWithoutCredentials(t *testing.T) {
	_, srv := newFakeDeployment(t)
	s := New(srv.URL, config.Auth{}, time.Second, nil)
	assert.ErrorIs(t, s.Reauthenticate(context.Background()), ErrNoCredentials)
}

func TestLogoutMakesHandleAbsent(t *testing.T) {
	_, srv := newFakeDeployment(t)
	s := New(srv.URL, creds, time.Second, nil)
	require.NoError(t, s.Login(context.Background()))
	s.SetViewMode("user")

	s.Logout()

	h, err := s.Handle(context.Background())
	require.NoError(t, err)
	assert.Nil(t, h)
	assert.ErrorIs(t, s.Reauthenticate(context.Background()), ErrSignedOut)
	info := s.Info()
	assert.False(t, info.Authenticated)
	assert.Empty(t, info.ViewMode)

	require.NoError(t, s.Login(context.Background()))
	h, err = s.Handle(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, h)
}

func TestLogoutDuringReauthenticateStaysSignedOut(t *testing.T) {
	fd, srv := newFakeDeployment(t)
	s := New(srv.URL, creds, 5*time.Second, nil)
	require.NoError(t, s.Login(context.Background()))

	fd.holdLogins.Store(true)
	done := make(chan error, 1)
	go func() { done <- s.Reauthenticate(context.Background()) }()
	<-fd.loginStarted
	s.Logout()
	close(fd.releaseLogin)

	err := <-done
	assert.ErrorIs(t, err, ErrSignedOut)
	assert.ErrorIs(t, err, monitor.ErrReauthSkipped)
	assert.False(t, s.Info().Authenticated)

	h, err := s.Handle(context.Background())
	require.NoError(t, err)
	assert.Nil(t, h)
}

func TestLogoutDuringImplicitLoginReturnsNoHandle(t *testing.T) {
	fd, srv := newFakeDeployment(t)
	s := New(srv.URL, creds, 5*time.Second, nil)

	fd.holdLogins.Store(true)
	type result struct {
		h   monitor.Handle
		err error
	}
	done := make(chan result, 1)
	go func() {
		h, err := s.Handle(context.Background())
		done <- result{h, err}
	}()
	<-fd.loginStarted
	s.Logout()
	close(fd.releaseLogin)

	res := <-done
	require.NoError(t, res.err)
	assert.Nil(t, res.h)
	assert.False(t, s.Info().Authenticated)
}

func TestConcurrentHandlesLogInOnce(t *testing.T) {
	fd, srv := newFakeDeployment(t)
	s := New(srv.URL, creds, 5*time.Second, nil)

	var wg sync.WaitGroup
	handles := make([]monitor.Handle, 8)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := s.Handle(context.Background())
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	for _, h := range handles {
		assert.NotNil(t, h)
	}
	assert.Equal(t, int32(1), fd.logins.Load())
}

func TestSetDeploymentDropsToken(t *testing.T) {
	_, srv := newFakeDeployment(t)
	s := New(srv.URL, creds, time.Second, nil)
	require.NoError(t, s.Login(context.Background()))

	s.SetDeployment("https://other.example")
	assert.False(t, s.Info().Authenticated)
	assert.Equal(t, "https://other.example", s.Deployment())
}
