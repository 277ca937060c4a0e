// Command havend runs the keyhaven homeserver: identity-authenticated
// sessions, the three-party authorization relay and the per-identity
// data plane.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/keyhaven/keyhaven/internal/cache"
	"github.com/keyhaven/keyhaven/internal/channel"
	"github.com/keyhaven/keyhaven/internal/config"
	khttp "github.com/keyhaven/keyhaven/internal/http"
	"github.com/keyhaven/keyhaven/internal/identity"
	"github.com/keyhaven/keyhaven/internal/observability/logger"
	"github.com/keyhaven/keyhaven/internal/security/keybox"
	"github.com/keyhaven/keyhaven/internal/session"
	"github.com/keyhaven/keyhaven/internal/store"
)

var version = "dev" // set via -ldflags at release build

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "havend:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: "havend",
		Version:     version,
	})
	defer func() { _ = logger.Sync() }()
	log := logger.Named("main")

	kp, err := loadOrCreateKeypair(cfg)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	log.Info("homeserver identity", logger.Subject(kp.Address().String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, store.Config{
		Driver: cfg.Storage.Driver,
		Path:   cfg.Storage.SQLitePath,
		DSN:    cfg.Storage.DSN,
	})
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer func() { _ = st.Close() }()

	c, err := cache.New(cache.Config{
		Driver:   cfg.Cache.Driver,
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		Prefix:   cfg.Cache.Redis.Prefix,
	})
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer func() { _ = c.Close() }()

	sessions := session.NewManager(session.Config{
		ChallengeTTL:  cfg.Auth.ChallengeTTL,
		InactivityTTL: cfg.Auth.InactivityTTL,
		NonceSlack:    cfg.Auth.NonceSlack,
		TokenMaxTTL:   cfg.Auth.TokenMaxTTL,
	}, c)
	defer sessions.Close()

	relay := channel.NewRelay(cfg.Auth.ChannelTTL)
	defer relay.Close()

	handler, err := khttp.NewRouter(khttp.RouterDeps{
		Keypair:  kp,
		Sessions: sessions,
		Relay:    relay,
		Store:    st,
		Version:  version,
		Ready:    func(ctx context.Context) error { return c.Ping(ctx) },
	})
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}

	var hosts []string
	if cfg.Server.PublicIP != "" {
		hosts = append(hosts, cfg.Server.PublicIP)
	}
	if cfg.Server.LegacyDomain != "" {
		hosts = append(hosts, cfg.Server.LegacyDomain)
	}

	srv := khttp.NewServer(khttp.ServerConfig{
		HTTPAddr:  cfg.Server.HTTPAddr,
		HTTPSAddr: cfg.Server.HTTPSAddr,
		Hosts:     hosts,
	}, kp, handler)

	log.Info("starting",
		logger.String("env", cfg.App.Env),
		logger.String("http", cfg.Server.HTTPAddr),
		logger.String("https", cfg.Server.HTTPSAddr),
		logger.String("storage", cfg.Storage.Driver),
	)
	return srv.Run(ctx)
}

// loadOrCreateKeypair reads the seed file, creating and persisting a new
// identity on first boot. With identity.sealed the file is encrypted
// under KEYHAVEN_MASTER_KEY.
func loadOrCreateKeypair(cfg *config.Config) (*identity.Keypair, error) {
	path := cfg.Identity.SeedFile

	if cfg.Identity.Sealed {
		key, err := keybox.MasterKeyFromEnv()
		if err != nil {
			return nil, err
		}
		seed, err := keybox.OpenFile(key, path)
		if errors.Is(err, os.ErrNotExist) {
			kp, err := identity.Generate()
			if err != nil {
				return nil, err
			}
			raw, err := kp.Seed()
			if err != nil {
				return nil, err
			}
			if err := keybox.SealFile(key, path, raw); err != nil {
				return nil, err
			}
			return kp, nil
		}
		if err != nil {
			return nil, err
		}
		return identity.FromSeed(seed)
	}

	kp, err := identity.LoadSeed(path)
	if errors.Is(err, os.ErrNotExist) {
		kp, err = identity.Generate()
		if err != nil {
			return nil, err
		}
		if err := kp.SaveSeed(path); err != nil {
			return nil, err
		}
		return kp, nil
	}
	return kp, err
}
