package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"kucoin-futures-api/config"
	"kucoin-futures-api/internal/api"
	"kucoin-futures-api/internal/auth"
	"kucoin-futures-api/internal/kucoin"
	"kucoin-futures-api/internal/logging"
	"kucoin-futures-api/internal/timesync"
	"kucoin-futures-api/internal/vault"
)

const runtimeKey = "runtime"

// runtime is what every command shares: config, logger, credentials store
type runtime struct {
	cfg       *config.Config
	logger    zerolog.Logger
	logCloser io.Closer
	vault     *vault.Client
	account   string
}

func setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, closer := logging.New(&logging.Config{
		Level:       cfg.Logging.Level,
		Output:      cfg.Logging.Output,
		JSONFormat:  cfg.Logging.JSONFormat,
		IncludeFile: cfg.Logging.IncludeFile,
		Component:   "main",
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
		Compress:    cfg.Logging.Compress,
	})
	logging.SetDefault(logger)

	vaultClient, err := vault.NewClient(cfg.Vault)
	if err != nil {
		closer.Close()
		return fmt.Errorf("failed to initialise vault: %w", err)
	}

	account := c.String("account")
	if account == "" {
		account = cfg.KuCoin.Account
	}

	// Credentials from config or env are seeded into the store so every
	// command resolves them the same way
	if cfg.KuCoin.HasCredentials() && !vaultClient.IsEnabled() {
		err := vaultClient.Store(c.Context, account, vault.Credentials{
			APIKey:        cfg.KuCoin.APIKey,
			APISecret:     cfg.KuCoin.APISecret,
			APIPassphrase: cfg.KuCoin.APIPassphrase,
			Sandbox:       cfg.KuCoin.Sandbox,
		})
		if err != nil {
			closer.Close()
			return err
		}
	}

	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]interface{})
	}
	c.App.Metadata[runtimeKey] = &runtime{
		cfg:       cfg,
		logger:    logger,
		logCloser: closer,
		vault:     vaultClient,
		account:   account,
	}
	return nil
}

func teardown(c *cli.Context) error {
	if rt, ok := c.App.Metadata[runtimeKey].(*runtime); ok {
		return rt.logCloser.Close()
	}
	return nil
}

func runtimeFrom(c *cli.Context) *runtime {
	return c.App.Metadata[runtimeKey].(*runtime)
}

// clientOptions maps configuration onto the client's non-credential options
func (rt *runtime) clientOptions() kucoin.Options {
	k := rt.cfg.KuCoin
	return kucoin.Options{
		BaseURL:                   k.BaseURL,
		BaseURLKey:                kucoin.BaseURLKey(k.BaseURLKey),
		RecvWindow:                k.RecvWindow,
		SyncInterval:              k.SyncInterval,
		DisableTimeSync:           k.DisableTimeSync,
		StrictParamValidation:     k.StrictParamValidation,
		DisableErrorNormalization: k.DisableErrorNormalization,
		Timeout:                   k.Timeout,
	}
}

func (rt *runtime) factory(extra ...kucoin.ClientOption) *kucoin.ClientFactory {
	k := rt.cfg.KuCoin
	extra = append(extra, kucoin.WithLogger(rt.logger))
	if k.TimeSource == config.TimeSourceNTP {
		extra = append(extra, kucoin.WithServerTime(timesync.NTPSource(k.NTPServer)))
	}
	return kucoin.NewClientFactory(rt.vault, kucoin.FactoryConfig{
		Base:           rt.clientOptions(),
		Sandbox:        k.Sandbox,
		MockMode:       k.MockMode,
		DefaultAccount: rt.account,
		ClientTTL:      k.ClientTTL,
	}, extra...)
}

func (rt *runtime) jwtManager() (*auth.JWTManager, error) {
	m, err := auth.NewJWTManager(rt.cfg.Server.JWTSecret, rt.cfg.Server.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("server.jwt_secret (SERVER_JWT_SECRET) must be set: %w", err)
	}
	return m, nil
}

func printJSON(v interface{}) error {
	out, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func timeCommand() *cli.Command {
	return &cli.Command{
		Name:  "time",
		Usage: "print exchange time and the measured clock offset",
		Action: func(c *cli.Context) error {
			rt := runtimeFrom(c)
			factory := rt.factory()
			defer factory.Close()

			client, err := factory.GetClient(c.Context, rt.account)
			if err != nil {
				return err
			}

			client.SyncTime(c.Context)
			serverTime, err := client.GetServerTime(c.Context)
			if err != nil {
				return err
			}

			return printJSON(map[string]interface{}{
				"server_time":    serverTime,
				"local_time":     time.Now().UnixMilli(),
				"time_offset_ms": client.TimeOffset(),
				"base_url":       client.BaseURL(),
			})
		},
	}
}

func accountCommand() *cli.Command {
	return &cli.Command{
		Name:  "account",
		Usage: "print the futures account overview",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "currency", Usage: "settlement currency, e.g. USDT or XBT"},
		},
		Action: func(c *cli.Context) error {
			rt := runtimeFrom(c)
			factory := rt.factory()
			defer factory.Close()

			client, err := factory.GetClient(c.Context, rt.account)
			if err != nil {
				return err
			}
			client.SyncTime(c.Context)

			resp, err := client.GetAccountOverview(c.Context, c.String("currency"))
			if err != nil {
				if reqErr, ok := kucoin.AsRequestError(err); ok {
					rt.logger.Error().
						Str("kind", reqErr.Kind.String()).
						Str("code", reqErr.Code).
						Int("status", reqErr.StatusCode).
						Msg(reqErr.Message)
				}
				return err
			}
			return printJSON(resp.Data)
		},
	}
}

func clockCommand() *cli.Command {
	return &cli.Command{
		Name:  "clock",
		Usage: "check the local clock against an NTP server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Usage: "NTP server (default from config)"},
		},
		Action: func(c *cli.Context) error {
			rt := runtimeFrom(c)
			server := c.String("server")
			if server == "" {
				server = rt.cfg.KuCoin.NTPServer
			}

			report, err := timesync.QueryNTPOffset(server)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"server":     report.Server,
				"offset_ms":  report.Offset.Milliseconds(),
				"rtt_ms":     report.RTT.Milliseconds(),
				"stratum":    report.Stratum,
				"checked_at": report.CheckedAt.UTC().Format(time.RFC3339),
			})
		},
	}
}

func credentialsCommand() *cli.Command {
	return &cli.Command{
		Name:  "credentials",
		Usage: "manage stored API credentials",
		Subcommands: []*cli.Command{
			{
				Name:  "store",
				Usage: "store a key, secret and passphrase for an account",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "key", Required: true, EnvVars: []string{"KUCOIN_API_KEY"}},
					&cli.StringFlag{Name: "secret", Required: true, EnvVars: []string{"KUCOIN_API_SECRET"}},
					&cli.StringFlag{Name: "passphrase", Required: true, EnvVars: []string{"KUCOIN_API_PASSPHRASE"}},
					&cli.BoolFlag{Name: "sandbox", Usage: "store for the sandbox environment"},
				},
				Action: func(c *cli.Context) error {
					rt := runtimeFrom(c)
					if !rt.vault.IsEnabled() {
						return errors.New("vault is disabled; enable it to persist credentials")
					}
					err := rt.vault.Store(c.Context, rt.account, vault.Credentials{
						APIKey:        c.String("key"),
						APISecret:     c.String("secret"),
						APIPassphrase: c.String("passphrase"),
						Sandbox:       c.Bool("sandbox") || rt.cfg.KuCoin.Sandbox,
					})
					if err != nil {
						return err
					}
					rt.logger.Info().Str("account", rt.account).Msg("Credentials stored")
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "list accounts with stored credentials",
				Action: func(c *cli.Context) error {
					accounts, err := runtimeFrom(c).vault.ListAccounts(c.Context)
					if err != nil {
						return err
					}
					return printJSON(accounts)
				},
			},
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the health and metrics server",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "production", Usage: "gin release mode"},
		},
		Action: func(c *cli.Context) error {
			rt := runtimeFrom(c)

			jwtManager, err := rt.jwtManager()
			if err != nil {
				return err
			}

			registry := prometheus.NewRegistry()
			metrics, err := kucoin.NewMetrics(registry)
			if err != nil {
				return fmt.Errorf("failed to register metrics: %w", err)
			}

			factory := rt.factory(kucoin.WithMetrics(metrics))
			defer factory.Close()

			var clock api.ClockSource
			if client, err := factory.GetClient(c.Context, rt.account); err != nil {
				rt.logger.Warn().Err(err).Str("account", rt.account).Msg("No default client, clock state unavailable")
			} else {
				clock = client
			}

			srvCfg := rt.cfg.Server
			server := api.NewServer(api.ServerConfig{
				Port:            srvCfg.Port,
				Host:            srvCfg.Host,
				ProductionMode:  c.Bool("production"),
				AllowedOrigins:  srvCfg.AllowedOrigins,
				ReadTimeout:     srvCfg.ReadTimeout,
				WriteTimeout:    srvCfg.WriteTimeout,
				ShutdownTimeout: srvCfg.ShutdownTimeout,
				DefaultAccount:  rt.account,
			}, api.Deps{
				Clock:    clock,
				Factory:  factory,
				Vault:    rt.vault,
				Auth:     jwtManager,
				Gatherer: registry,
				Logger:   &rt.logger,
			})

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			select {
			case err := <-errCh:
				return err
			case sig := <-sigChan:
				rt.logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown: %w", err)
			}
			rt.logger.Info().Msg("Shutdown complete")
			return nil
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "issue a bearer token for the serve API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "subject", Value: "operator", Usage: "token subject"},
			&cli.StringSliceFlag{Name: "grant", Usage: "account the token may query; * grants all (default: --account)"},
		},
		Action: func(c *cli.Context) error {
			rt := runtimeFrom(c)
			m, err := rt.jwtManager()
			if err != nil {
				return err
			}

			accounts := c.StringSlice("grant")
			if len(accounts) == 0 {
				accounts = []string{rt.account}
			}
			token, err := m.GenerateToken(c.String("subject"), accounts)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"token":      token,
				"token_type": "Bearer",
				"expires_in": int64(m.TokenDuration().Seconds()),
				"accounts":   accounts,
			})
		},
	}
}
