package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"kucoin-futures-api/config"

	"github.com/hashicorp/vault/api"
)

// ErrNotFound is returned when no credentials are stored for an account
var ErrNotFound = errors.New("credentials not found")

const exchangeName = "kucoin"

// Credentials is the KuCoin API credential triple stored in Vault
type Credentials struct {
	APIKey        string `json:"api_key"`
	APISecret     string `json:"api_secret"`
	APIPassphrase string `json:"api_passphrase"`
	Sandbox       bool   `json:"sandbox"`
}

// Complete reports whether all three credential parts are set
func (c Credentials) Complete() bool {
	return c.APIKey != "" && c.APISecret != "" && c.APIPassphrase != ""
}

// Client wraps the HashiCorp Vault client
type Client struct {
	client       *api.Client
	config       config.VaultConfig
	mu           sync.RWMutex
	cache        map[string]*Credentials // account/kucoin_<network> -> Credentials
	cacheEnabled bool
}

// NewClient creates a new Vault client. When vault is disabled credentials
// live in memory only.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{
			config:       cfg,
			cache:        make(map[string]*Credentials),
			cacheEnabled: true,
		}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Client{
		client:       client,
		config:       cfg,
		cache:        make(map[string]*Credentials),
		cacheEnabled: true,
	}, nil
}

// Store saves credentials for an account
func (c *Client) Store(ctx context.Context, account string, creds Credentials) error {
	if account == "" {
		return fmt.Errorf("account is required")
	}
	if !creds.Complete() {
		return fmt.Errorf("api key, secret and passphrase are required")
	}

	if !c.config.Enabled {
		c.mu.Lock()
		c.cache[cacheKey(account, creds.Sandbox)] = &creds
		c.mu.Unlock()
		return nil
	}

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"api_key":        creds.APIKey,
			"api_secret":     creds.APISecret,
			"api_passphrase": creds.APIPassphrase,
			"sandbox":        creds.Sandbox,
		},
	}

	_, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(account, creds.Sandbox), secretData)
	if err != nil {
		return fmt.Errorf("failed to store credentials in vault: %w", err)
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[cacheKey(account, creds.Sandbox)] = &creds
		c.mu.Unlock()
	}

	return nil
}

// Get retrieves the credentials for an account
func (c *Client) Get(ctx context.Context, account string, sandbox bool) (*Credentials, error) {
	c.mu.RLock()
	cacheEnabled := c.cacheEnabled
	cached, ok := c.cache[cacheKey(account, sandbox)]
	c.mu.RUnlock()
	if cacheEnabled && ok {
		creds := *cached
		return &creds, nil
	}

	if !c.config.Enabled {
		return nil, fmt.Errorf("%w for account %s (vault disabled)", ErrNotFound, account)
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(account, sandbox))
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}

	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w for account %s", ErrNotFound, account)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	creds := &Credentials{
		APIKey:        getString(data, "api_key"),
		APISecret:     getString(data, "api_secret"),
		APIPassphrase: getString(data, "api_passphrase"),
		Sandbox:       getBool(data, "sandbox"),
	}

	if c.cacheEnabled {
		c.mu.Lock()
		stored := *creds
		c.cache[cacheKey(account, sandbox)] = &stored
		c.mu.Unlock()
	}

	return creds, nil
}

// Delete removes the credentials for an account
func (c *Client) Delete(ctx context.Context, account string, sandbox bool) error {
	c.mu.Lock()
	delete(c.cache, cacheKey(account, sandbox))
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	_, err := c.client.Logical().DeleteWithContext(ctx, c.metadataPath(account, sandbox))
	if err != nil {
		return fmt.Errorf("failed to delete credentials from vault: %w", err)
	}

	return nil
}

// ListAccounts lists accounts with stored credentials
func (c *Client) ListAccounts(ctx context.Context) ([]string, error) {
	if !c.config.Enabled {
		c.mu.RLock()
		defer c.mu.RUnlock()

		seen := make(map[string]struct{})
		for key := range c.cache {
			if i := strings.IndexByte(key, '/'); i > 0 {
				seen[key[:i]] = struct{}{}
			}
		}
		accounts := make([]string, 0, len(seen))
		for a := range seen {
			accounts = append(accounts, a)
		}
		sort.Strings(accounts)
		return accounts, nil
	}

	path := fmt.Sprintf("%s/metadata/%s", c.config.MountPath, c.config.SecretPath)

	secret, err := c.client.Logical().ListWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	keys, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, nil
	}

	var accounts []string
	for _, key := range keys {
		if s, ok := key.(string); ok {
			accounts = append(accounts, strings.TrimSuffix(s, "/"))
		}
	}
	sort.Strings(accounts)
	return accounts, nil
}

// ClearCache clears the in-memory cache
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]*Credentials)
	c.mu.Unlock()
}

// SetCacheEnabled enables or disables caching
func (c *Client) SetCacheEnabled(enabled bool) {
	c.mu.Lock()
	c.cacheEnabled = enabled
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}

	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}

	return nil
}

func network(sandbox bool) string {
	if sandbox {
		return "testnet"
	}
	return "mainnet"
}

// secretPath returns the path for storing a secret
func (c *Client) secretPath(account string, sandbox bool) string {
	return fmt.Sprintf("%s/data/%s/%s/%s_%s", c.config.MountPath, c.config.SecretPath, account, exchangeName, network(sandbox))
}

// metadataPath returns the metadata path for a secret
func (c *Client) metadataPath(account string, sandbox bool) string {
	return fmt.Sprintf("%s/metadata/%s/%s/%s_%s", c.config.MountPath, c.config.SecretPath, account, exchangeName, network(sandbox))
}

func cacheKey(account string, sandbox bool) string {
	return fmt.Sprintf("%s/%s_%s", account, exchangeName, network(sandbox))
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	if val, ok := data[key]; ok {
		switch v := val.(type) {
		case bool:
			return v
		case string:
			return v == "true"
		case json.Number:
			n, _ := v.Int64()
			return n != 0
		}
	}
	return false
}

// NewMockClient creates an in-memory client for testing
func NewMockClient() *Client {
	return &Client{
		config: config.VaultConfig{
			Enabled: false,
		},
		cache:        make(map[string]*Credentials),
		cacheEnabled: true,
	}
}
