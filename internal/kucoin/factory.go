package kucoin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kucoin-futures-api/internal/vault"
)

// DefaultClientTTL is how long an unused cached client is kept
const DefaultClientTTL = 30 * time.Minute

// DefaultAccount is the account mock mode serves without stored credentials
const DefaultAccount = "default"

// ClientFactory creates and caches per-account futures clients whose
// credentials come from the vault store
type ClientFactory struct {
	vault    *vault.Client
	base     Options
	sandbox  bool
	mockMode bool
	account  string
	extra    []ClientOption

	clients sync.Map // account -> *clientEntry
	mock    *MockTransport

	clientTTL     time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

type clientEntry struct {
	client    *FuturesClient
	createdAt time.Time
	lastUsed  time.Time
	mu        sync.Mutex
}

// FactoryConfig configures a ClientFactory
type FactoryConfig struct {
	// Base holds every non-credential option; credentials come from vault
	Base     Options
	Sandbox  bool
	MockMode bool
	// DefaultAccount is the only account mock mode serves with dummy
	// credentials; every other account needs stored credentials
	DefaultAccount string
	ClientTTL      time.Duration
}

// NewClientFactory creates a factory and starts its cache cleanup loop.
// extra is applied to every client it creates.
func NewClientFactory(vaultClient *vault.Client, cfg FactoryConfig, extra ...ClientOption) *ClientFactory {
	if cfg.ClientTTL <= 0 {
		cfg.ClientTTL = DefaultClientTTL
	}
	if cfg.DefaultAccount == "" {
		cfg.DefaultAccount = DefaultAccount
	}
	f := &ClientFactory{
		vault:       vaultClient,
		base:        cfg.Base,
		sandbox:     cfg.Sandbox,
		mockMode:    cfg.MockMode,
		account:     cfg.DefaultAccount,
		extra:       extra,
		clientTTL:   cfg.ClientTTL,
		stopCleanup: make(chan struct{}),
	}
	if cfg.MockMode {
		f.mock = NewMockTransport()
	}

	f.startCleanup()

	return f
}

// MockTransport returns the transport shared by mock mode clients, or nil
func (f *ClientFactory) MockTransport() *MockTransport { return f.mock }

// GetClient returns the cached client for account, creating it from stored
// credentials on first use
func (f *ClientFactory) GetClient(ctx context.Context, account string) (*FuturesClient, error) {
	if entry, ok := f.clients.Load(account); ok {
		e := entry.(*clientEntry)
		e.mu.Lock()
		e.lastUsed = time.Now()
		e.mu.Unlock()
		return e.client, nil
	}

	opts := f.base
	creds, err := f.vault.Get(ctx, account, f.sandbox)
	switch {
	case err == nil:
		opts.APIKey = creds.APIKey
		opts.APISecret = creds.APISecret
		opts.APIPassphrase = creds.APIPassphrase
	case f.mockMode && account == f.account:
		opts.APIKey, opts.APISecret, opts.APIPassphrase = "mock-key", "mock-secret", "mock-passphrase"
	default:
		return nil, fmt.Errorf("failed to get credentials for account %s: %w", account, err)
	}

	extra := f.extra
	if f.mockMode {
		extra = append(append([]ClientOption{}, f.extra...), WithTransport(f.mock))
	}

	client, err := NewFuturesClient(opts, f.sandbox, extra...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for account %s: %w", account, err)
	}

	now := time.Now()
	entry := &clientEntry{client: client, createdAt: now, lastUsed: now}
	if existing, loaded := f.clients.LoadOrStore(account, entry); loaded {
		client.Close()
		return existing.(*clientEntry).client, nil
	}

	return client, nil
}

// InvalidateClient closes and drops the cached client for account, e.g.
// after its credentials were rotated
func (f *ClientFactory) InvalidateClient(account string) {
	if entry, ok := f.clients.LoadAndDelete(account); ok {
		entry.(*clientEntry).client.Close()
	}
}

// InvalidateAllClients closes and drops every cached client
func (f *ClientFactory) InvalidateAllClients() {
	f.clients.Range(func(key, value interface{}) bool {
		f.InvalidateClient(key.(string))
		return true
	})
}

func (f *ClientFactory) startCleanup() {
	interval := f.clientTTL / 6
	if interval < time.Second {
		interval = time.Second
	}
	f.cleanupTicker = time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-f.cleanupTicker.C:
				f.cleanupExpiredClients(time.Now())
			case <-f.stopCleanup:
				f.cleanupTicker.Stop()
				return
			}
		}
	}()
}

// cleanupExpiredClients closes clients that haven't been used recently
func (f *ClientFactory) cleanupExpiredClients(now time.Time) {
	f.clients.Range(func(key, value interface{}) bool {
		entry := value.(*clientEntry)
		entry.mu.Lock()
		expired := now.Sub(entry.lastUsed) > f.clientTTL
		entry.mu.Unlock()
		if expired && f.clients.CompareAndDelete(key, value) {
			entry.client.Close()
		}
		return true
	})
}

// Close stops the cleanup goroutine and closes all clients
func (f *ClientFactory) Close() {
	f.closeOnce.Do(func() {
		close(f.stopCleanup)
		f.InvalidateAllClients()
	})
}

// Stats returns statistics about the client factory
func (f *ClientFactory) Stats() FactoryStats {
	var count int
	f.clients.Range(func(key, value interface{}) bool {
		count++
		return true
	})

	return FactoryStats{
		CachedClients: count,
		VaultEnabled:  f.vault.IsEnabled(),
		Sandbox:       f.sandbox,
		MockMode:      f.mockMode,
	}
}

// FactoryStats contains statistics about the client factory
type FactoryStats struct {
	CachedClients int  `json:"cached_clients"`
	VaultEnabled  bool `json:"vault_enabled"`
	Sandbox       bool `json:"sandbox"`
	MockMode      bool `json:"mock_mode"`
}
