package app_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/app"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/recorder"
	"github.com/MrWong99/earshot/internal/soundboard"
	"github.com/MrWong99/earshot/internal/transcode"
	"github.com/MrWong99/earshot/pkg/clock"
)

var t0 = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

// memConsent is an in-memory consent store.
type memConsent struct {
	mu    sync.Mutex
	users []string
}

func (m *memConsent) Load() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.users), nil
}

func (m *memConsent) Append(user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append(m.users, user)
	return nil
}

func (m *memConsent) Save(users []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = slices.Clone(users)
	return nil
}

// closingStore counts Close calls.
type closingStore struct {
	*soundboard.MemStore
	closed int
}

func (s *closingStore) Close() error {
	s.closed++
	return nil
}

// testConfig returns a defaulted config using the native converter and no
// HTTP listener.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Soundboard: config.SoundboardConfig{
			SoundsDir: t.TempDir(),
			Converter: config.ConverterNative,
		},
	}
	config.ApplyDefaults(cfg)
	cfg.Server.ListenAddr = ""
	return cfg
}

// testRegistry knows the memory store and the native converter.
func testRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterStore(config.StoreMemory, func(context.Context, config.StoreConfig) (soundboard.Store, error) {
		return soundboard.NewMemStore(), nil
	})
	reg.RegisterConverter(config.ConverterNative, func(config.SoundboardConfig) (transcode.Converter, error) {
		return transcode.Native{}, nil
	})
	return reg
}

func newApp(t *testing.T, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{
		app.WithConsentStore(&memConsent{}),
		app.WithClock(clock.NewFake(t0)),
	}, opts...)
	a, err := app.New(context.Background(), testConfig(t), testRegistry(), opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestNew_FromRegistry(t *testing.T) {
	t.Parallel()

	a := newApp(t)
	for name, v := range map[string]any{
		"Voice":      a.Voice(),
		"Library":    a.Library(),
		"Dispatcher": a.Dispatcher(),
		"Stats":      a.Stats(),
		"Recordings": a.Recordings(),
		"Whitelist":  a.Whitelist(),
		"Server":     a.Server(),
	} {
		if v == nil {
			t.Errorf("%s() = nil", name)
		}
	}

	rec := httptest.NewRecorder()
	a.Server().Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/readyz = %d, body %s", rec.Code, rec.Body)
	}
}

func TestNew_UnregisteredStore(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Store.Driver = config.StoreSQLite
	_, err := app.New(context.Background(), cfg, testRegistry(), app.WithConsentStore(&memConsent{}))
	if !errors.Is(err, config.ErrNotRegistered) {
		t.Fatalf("err = %v, want ErrNotRegistered", err)
	}
}

func TestNew_ClosesStoreOnFailure(t *testing.T) {
	t.Parallel()

	store := &closingStore{MemStore: soundboard.NewMemStore()}
	reg := config.NewRegistry()
	reg.RegisterStore(config.StoreMemory, func(context.Context, config.StoreConfig) (soundboard.Store, error) {
		return store, nil
	})

	_, err := app.New(context.Background(), testConfig(t), reg, app.WithConsentStore(&memConsent{}))
	if !errors.Is(err, config.ErrNotRegistered) {
		t.Fatalf("err = %v, want ErrNotRegistered", err)
	}
	if store.closed != 1 {
		t.Errorf("store closed %d times, want 1", store.closed)
	}
}

func TestWhitelistRemoval_DropsBuffers(t *testing.T) {
	t.Parallel()

	a := newApp(t)
	if _, err := a.Whitelist().Add("u1"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	f := recorder.Frame{At: t0, Samples: make([]int16, recorder.DurationSamples(20*time.Millisecond))}
	if err := a.Recordings().Ingest("g", "u1", f); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if got := a.Recordings().Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}

	if _, err := a.Whitelist().Remove("u1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got := a.Recordings().Len(); got != 0 {
		t.Errorf("Len() after removal = %d, want 0", got)
	}
}

func TestJoin_WithoutPlatform(t *testing.T) {
	t.Parallel()

	a := newApp(t)
	err := a.Voice().Join(context.Background(), "g", "c")
	if !errors.Is(err, app.ErrNoVoicePlatform) {
		t.Fatalf("Join err = %v, want ErrNoVoicePlatform", err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	a := newApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	store := &closingStore{MemStore: soundboard.NewMemStore()}
	reg := testRegistry()
	reg.RegisterStore(config.StoreMemory, func(context.Context, config.StoreConfig) (soundboard.Store, error) {
		return store, nil
	})
	a, err := app.New(context.Background(), testConfig(t), reg, app.WithConsentStore(&memConsent{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for range 2 {
		if err := a.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	}
	if store.closed != 1 {
		t.Errorf("store closed %d times, want 1", store.closed)
	}
}

func TestShutdown_InjectedStoreNotClosed(t *testing.T) {
	t.Parallel()

	store := &closingStore{MemStore: soundboard.NewMemStore()}
	a := newApp(t, app.WithStore(store))
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if store.closed != 0 {
		t.Errorf("injected store closed %d times, want 0", store.closed)
	}
}
