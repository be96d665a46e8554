package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, cfg *Config) *Limiter {
	t.Helper()
	l := NewLimiter(cfg)
	t.Cleanup(l.Stop)
	return l
}

// drain calls Allow n times and returns how many calls were allowed.
func drain(l *Limiter, client, path, method string, n int) int {
	allowed := 0
	for i := 0; i < n; i++ {
		if ok, _ := l.Allow(client, path, method); ok {
			allowed++
		}
	}
	return allowed
}

func TestLimiter_Allow(t *testing.T) {
	l := newTestLimiter(t, &Config{Enabled: true, DefaultLimit: 10, DefaultWindow: time.Minute})

	for i := 0; i < 10; i++ {
		ok, info := l.Allow("127.0.0.1", "/runs/r-1", "GET")
		require.True(t, ok, "request %d", i+1)
		assert.Equal(t, 10, info.Limit)
		assert.Equal(t, 9-i, info.Remaining)
	}

	ok, info := l.Allow("127.0.0.1", "/runs/r-1", "GET")
	assert.False(t, ok)
	assert.Equal(t, 0, info.Remaining)
	assert.Positive(t, info.RetryAfter)
	assert.True(t, info.ResetTime.After(time.Now()))
}

func TestLimiter_ClientLists(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *Config
		client    string
		wantAllow int
		wantLimit int
	}{
		{
			name:      "whitelisted client is never limited",
			cfg:       &Config{Enabled: true, DefaultLimit: 1, DefaultWindow: time.Minute, Whitelist: map[string]bool{"10.0.0.1": true}},
			client:    "10.0.0.1",
			wantAllow: 50,
		},
		{
			name:      "blacklisted client is always denied",
			cfg:       &Config{Enabled: true, DefaultLimit: 1000, DefaultWindow: time.Minute, Blacklist: map[string]bool{"10.0.0.9": true}},
			client:    "10.0.0.9",
			wantAllow: 0,
		},
		{
			name:      "disabled limiter allows everything",
			cfg:       &Config{},
			client:    "10.0.0.2",
			wantAllow: 50,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLimiter(t, tt.cfg)
			assert.Equal(t, tt.wantAllow, drain(l, tt.client, "/runs", "GET", 50))
			_, info := l.Allow(tt.client, "/runs", "GET")
			assert.Equal(t, tt.wantLimit, info.Limit)
		})
	}
}

func TestLimiter_EndpointSpecific(t *testing.T) {
	l := newTestLimiter(t, &Config{
		Enabled:       true,
		DefaultLimit:  1000,
		DefaultWindow: time.Minute,
		EndpointConfigs: []EndpointConfig{
			{Path: "/runs", Method: "POST", Limit: 5, Window: time.Hour},
		},
	})

	assert.Equal(t, 5, drain(l, "127.0.0.1", "/runs", "POST", 8))
	_, info := l.Allow("127.0.0.1", "/runs", "POST")
	assert.Equal(t, 5, info.Limit)

	ok, info := l.Allow("127.0.0.1", "/runs/r-1", "GET")
	assert.True(t, ok)
	assert.Equal(t, 1000, info.Limit)
}

func TestLimiter_Concurrent(t *testing.T) {
	l := newTestLimiter(t, &Config{Enabled: true, DefaultLimit: 100, DefaultWindow: time.Hour})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow("127.0.0.1", "/runs", "GET"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, allowed)
}

func TestLimiter_Sweep(t *testing.T) {
	config := &Config{
		Enabled:       true,
		DefaultLimit:  60,
		DefaultWindow: time.Minute,
	}
	limiter := NewLimiter(config)
	defer limiter.Stop()

	for i := 0; i < 10; i++ {
		clientID := fmt.Sprintf("127.0.0.%d", i+1)
		if allowed, _ := limiter.Allow(clientID, "/test", "GET"); !allowed {
			t.Errorf("Expected request from %s to be allowed", clientID)
		}
	}
	if got := limiter.Size(); got != 10 {
		t.Fatalf("Expected 10 buckets, got %d", got)
	}

	// Recently used buckets survive
	if removed := limiter.sweep(time.Now(), time.Hour); removed != 0 {
		t.Errorf("Expected no buckets removed, got %d", removed)
	}

	// One token refills per second; after two seconds every bucket is full
	// and idle, so all of them go.
	if removed := limiter.sweep(time.Now().Add(2*time.Second), time.Second); removed != 10 {
		t.Errorf("Expected 10 buckets removed, got %d", removed)
	}
	if got := limiter.Size(); got != 0 {
		t.Errorf("Expected no buckets left, got %d", got)
	}
}

func TestLimiter_SweepKeepsDrainedBuckets(t *testing.T) {
	config := &Config{
		Enabled:       true,
		DefaultLimit:  2,
		DefaultWindow: time.Hour,
	}
	limiter := NewLimiter(config)
	defer limiter.Stop()

	limiter.Allow("127.0.0.1", "/test", "GET")
	limiter.Allow("127.0.0.1", "/test", "GET")

	// Dropping a drained bucket would hand the client a fresh burst
	if removed := limiter.sweep(time.Now().Add(time.Minute), time.Second); removed != 0 {
		t.Errorf("Expected drained bucket to be kept, got %d removed", removed)
	}
	if allowed, _ := limiter.Allow("127.0.0.1", "/test", "GET"); allowed {
		t.Error("Expected drained client to stay limited")
	}
}

func TestLimiter_PatternSharesBucket(t *testing.T) {
	config := &Config{
		Enabled:       true,
		DefaultLimit:  1000,
		DefaultWindow: time.Minute,
		EndpointConfigs: []EndpointConfig{
			{Path: "/runs/{id}/events", Method: "GET", Limit: 2, Window: time.Hour, Burst: 2},
		},
	}
	limiter := NewLimiter(config)
	defer limiter.Stop()

	limiter.Allow("127.0.0.1", "/runs/a/events", "GET")
	limiter.Allow("127.0.0.1", "/runs/b/events", "GET")
	allowed, info := limiter.Allow("127.0.0.1", "/runs/c/events", "GET")
	if allowed {
		t.Error("Expected third stream request to be denied")
	}
	if info.Limit != 2 {
		t.Errorf("Expected limit 2, got %d", info.Limit)
	}

	// Other clients have their own bucket
	if allowed, _ := limiter.Allow("127.0.0.2", "/runs/a/events", "GET"); !allowed {
		t.Error("Expected other client to be allowed")
	}
}

func TestLimiter_Burst(t *testing.T) {
	l := newTestLimiter(t, &Config{
		Enabled:       true,
		DefaultLimit:  10,
		DefaultWindow: time.Minute,
		EndpointConfigs: []EndpointConfig{
			{Path: "/videos", Method: "POST", Limit: 10, Window: time.Minute, Burst: 5},
		},
	})

	assert.Equal(t, 5, drain(l, "127.0.0.1", "/videos", "POST", 6))
}

func TestNewLimiter_NilConfig(t *testing.T) {
	l := newTestLimiter(t, nil)

	ok, info := l.Allow("127.0.0.1", "/runs", "GET")
	assert.True(t, ok)
	assert.Equal(t, 1000, info.Limit)
}

func TestMatchEndpoint_Patterns(t *testing.T) {
	configs := []EndpointConfig{
		{Path: "/runs/{id}/events", Method: "GET", Limit: 1},
		{Path: "/runs/latest/events", Method: "GET", Limit: 2},
		{Path: "/admin/", Method: "POST", Limit: 3},
	}

	tests := []struct {
		path   string
		method string
		limit  int
		match  bool
	}{
		{"/runs/abc/events", "GET", 1, true},
		{"/runs/latest/events", "GET", 2, true},
		{"/runs/abc/events", "POST", 0, false},
		{"/runs/abc", "GET", 0, false},
		{"/runs//events", "GET", 0, false},
		{"/admin/users/1", "POST", 3, true},
		{"/admin", "POST", 3, true},
	}
	for _, tt := range tests {
		cfg := MatchEndpoint(tt.path, tt.method, configs)
		if !tt.match {
			if cfg != nil {
				t.Errorf("%s %s: expected no match, got %+v", tt.method, tt.path, cfg)
			}
			continue
		}
		if cfg == nil || cfg.Limit != tt.limit {
			t.Errorf("%s %s: expected limit %d, got %+v", tt.method, tt.path, tt.limit, cfg)
		}
	}
}

func TestMatchEndpoint_Defaults(t *testing.T) {
	configs := DefaultEndpointConfigs()

	cfg := MatchEndpoint("/runs", "POST", configs)
	if cfg == nil || cfg.Limit != 10 {
		t.Fatalf("expected strict limit for POST /runs, got %+v", cfg)
	}
	if cfg := MatchEndpoint("/videos", "POST", configs); cfg == nil || cfg.Burst != 5 {
		t.Fatalf("expected POST /videos config, got %+v", cfg)
	}
	if cfg := MatchEndpoint("/runs/abc", "GET", configs); cfg != nil {
		t.Fatalf("expected reads to fall back to the default, got %+v", cfg)
	}
	if cfg := MatchEndpoint("/health", "GET", configs); cfg == nil || cfg.Limit != 0 {
		t.Fatalf("expected unlimited health check, got %+v", cfg)
	}
}

func TestConfigFromEnv(t *testing.T) {
	env := map[string]string{
		"RATE_LIMIT_DEFAULT_LIMIT":    "50",
		"RATE_LIMIT_DEFAULT_WINDOW":   "30s",
		"RATE_LIMIT_WHITELIST":        " 10.0.0.1, ,10.0.0.2",
		"RATE_LIMIT_CLEANUP_INTERVAL": "soon",
	}
	cfg := ConfigFromEnv(func(k string) string { return env[k] })

	assert.True(t, cfg.Enabled)
	assert.Equal(t, 50, cfg.DefaultLimit)
	assert.Equal(t, 30*time.Second, cfg.DefaultWindow)
	assert.Equal(t, 5*time.Minute, cfg.CleanupInterval)
	assert.Equal(t, map[string]bool{"10.0.0.1": true, "10.0.0.2": true}, cfg.Whitelist)
	assert.Empty(t, cfg.Blacklist)
	assert.Len(t, cfg.EndpointConfigs, 5)
}

func TestConfigFromEnv_Disabled(t *testing.T) {
	cfg := ConfigFromEnv(func(k string) string {
		if k == "RATE_LIMIT_ENABLED" {
			return "false"
		}
		return ""
	})
	assert.False(t, cfg.Enabled)
}
