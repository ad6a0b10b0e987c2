// Package mtproto implements upstream.Client on top of gotd/td.
// Sessions are Telethon-style string sessions stored on the account
// row; they are loaded into an in-memory gotd session per client.
package mtproto

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"
	"golang.org/x/net/proxy"

	"github.com/Comrade19632/tgParser/internal/logger"
	"github.com/Comrade19632/tgParser/internal/store"
	"github.com/Comrade19632/tgParser/internal/upstream"
)

// FactoryConfig carries app-level fallbacks: credentials used when an
// account row has none of its own, and the device identity reported to
// Telegram.
type FactoryConfig struct {
	APIID   int
	APIHash string

	DeviceModel   string
	SystemVersion string
	AppVersion    string
}

// Factory builds gotd-backed clients from account rows.
type Factory struct {
	logger *logger.Logger
	cfg    FactoryConfig
}

func NewFactory(log *logger.Logger, cfg FactoryConfig) *Factory {
	return &Factory{
		logger: log.WithComponent("mtproto"),
		cfg:    cfg,
	}
}

// Build creates a disconnected client for the account. Missing app
// identity is a ConfigError; a malformed session string is a plain
// error (the health pass classifies it as account error).
func (f *Factory) Build(acc store.Account) (upstream.Client, error) {
	apiID, apiHash := acc.APIID, acc.APIHash
	if apiID == 0 || apiHash == "" {
		apiID, apiHash = f.cfg.APIID, f.cfg.APIHash
	}
	if apiID == 0 || apiHash == "" {
		return nil, &upstream.ConfigError{
			AccountID: acc.ID,
			Reason:    "api_id/api_hash are not set on the account and no fallback is configured",
		}
	}

	storage := &session.StorageMemory{}
	if acc.SessionString != "" {
		data, err := session.TelethonSession(acc.SessionString)
		if err != nil {
			return nil, fmt.Errorf("failed to decode session string for account %d: %w", acc.ID, err)
		}
		loader := session.Loader{Storage: storage}
		if err := loader.Save(context.Background(), data); err != nil {
			return nil, fmt.Errorf("failed to load session for account %d: %w", acc.ID, err)
		}
	}

	opts := telegram.Options{
		SessionStorage: storage,
		NoUpdates:      true,
		Device: telegram.DeviceConfig{
			DeviceModel:   f.cfg.DeviceModel,
			SystemVersion: f.cfg.SystemVersion,
			AppVersion:    f.cfg.AppVersion,
		},
	}

	if acc.ProxyURL != "" {
		dial, err := proxyDialFunc(acc.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("failed to configure proxy for account %d: %w", acc.ID, err)
		}
		opts.Resolver = dcs.Plain(dcs.PlainOptions{Dial: dial})
	}

	return &client{
		logger:    f.logger.WithFields(map[string]interface{}{"account_id": acc.ID}),
		accountID: acc.ID,
		tc:        telegram.NewClient(apiID, apiHash, opts),
	}, nil
}

func proxyDialFunc(proxyURL string) (dcs.DialFunc, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}

	dialer, err := proxy.FromURL(u, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("unsupported proxy: %w", err)
	}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, addr)
		}
		return dialer.Dial(network, addr)
	}, nil
}
