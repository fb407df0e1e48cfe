package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"prism-board/frontmatter"
	"prism-board/github"
)

type authSettings struct {
	domain       string
	audience     string
	sharedSecret string
	keyCacheTTL  time.Duration
}

type config struct {
	github            github.Config
	root              string
	dispatchEventType string
	txTimeout         time.Duration
	notifyTimeout     time.Duration

	redisConn      string
	cacheTTL       time.Duration
	updatesChannel string
	idempotencyTTL time.Duration

	storageConn  string
	changesQueue string
	boardsTable  string

	auth authSettings

	listenAddr       string
	streamHeartbeat  time.Duration
	debug            bool
	logFormat        string
	logFile          string
	logMaxSizeMB     int
	traceSampleRatio float64
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

// boardsRoot rejects roots that climb out of the repository and returns the
// canonical form of the rest.
func boardsRoot(raw string) (string, error) {
	for _, seg := range strings.Split(raw, "/") {
		if seg == ".." {
			return "", fmt.Errorf("invalid BOARDS_ROOT: %q leaves the repository", raw)
		}
	}
	return frontmatter.CleanRoot(raw), nil
}

// loadConfig reads the service configuration from the environment.
func loadConfig() (config, error) {
	cfg := config{
		github: github.Config{
			BaseURL:    envOr("GITHUB_API_URL", github.DefaultBaseURL),
			Owner:      os.Getenv("GITHUB_OWNER"),
			Repo:       os.Getenv("GITHUB_REPO"),
			Branch:     envOr("GITHUB_BRANCH", "main"),
			Token:      os.Getenv("GITHUB_TOKEN"),
			APIVersion: envOr("GITHUB_API_VERSION", github.DefaultAPIVersion),
		},
		root:              envOr("BOARDS_ROOT", "kanban"),
		dispatchEventType: envOr("DISPATCH_EVENT_TYPE", "kanban-updated"),
		redisConn:         os.Getenv("REDIS_CONNECTION_STRING"),
		updatesChannel:    envOr("UPDATES_CHANNEL", "board-updates"),
		storageConn:       os.Getenv("STORAGE_CONNECTION_STRING"),
		changesQueue:      os.Getenv("CHANGES_QUEUE"),
		boardsTable:       os.Getenv("BOARDS_TABLE"),
		listenAddr:        ":" + envOr("FUNCTIONS_CUSTOMHANDLER_PORT", "8080"),
		logFormat:         strings.ToLower(os.Getenv("LOG_FORMAT")),
		logFile:           os.Getenv("LOG_FILE"),
	}
	if cfg.github.Token == "" || cfg.github.Owner == "" || cfg.github.Repo == "" {
		return config{}, errors.New("missing GitHub config (GITHUB_TOKEN, GITHUB_OWNER, GITHUB_REPO)")
	}
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil {
		cfg.debug = dbg
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	var err error
	cfg.txTimeout, err = envDuration("TX_TIMEOUT", 20*time.Second)
	collect(err)
	cfg.notifyTimeout, err = envDuration("NOTIFY_TIMEOUT", 10*time.Second)
	collect(err)
	cfg.cacheTTL, err = envDuration("BOARD_CACHE_TTL", 10*time.Minute)
	collect(err)
	cfg.idempotencyTTL, err = envDuration("IDEMPOTENCY_TTL", 24*time.Hour)
	collect(err)
	cfg.streamHeartbeat, err = envDuration("STREAM_HEARTBEAT", 25*time.Second)
	collect(err)
	cfg.logMaxSizeMB, err = envInt("LOG_MAX_SIZE_MB", 50)
	collect(err)
	cfg.root, err = boardsRoot(cfg.root)
	collect(err)

	cfg.traceSampleRatio = 1
	if v := os.Getenv("TRACE_SAMPLE_RATIO"); v != "" {
		r, perr := strconv.ParseFloat(v, 64)
		if perr != nil || r < 0 || r > 1 {
			collect(fmt.Errorf("invalid TRACE_SAMPLE_RATIO: %q", v))
		}
		cfg.traceSampleRatio = r
	}

	auth, err := loadAuthSettings()
	collect(err)
	cfg.auth = auth

	if len(errs) > 0 {
		return config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// loadAuthSettings selects shared-secret verification when AUTH0_TEST_MODE=1
// or LOCAL_AUTH_MODE=hs256, and Auth0 JWKS otherwise.
func loadAuthSettings() (authSettings, error) {
	ttl, err := envDuration("JWKS_CACHE_TTL", 15*time.Minute)
	if err != nil {
		return authSettings{}, err
	}
	s := authSettings{keyCacheTTL: ttl}

	switch mode := strings.ToLower(os.Getenv("LOCAL_AUTH_MODE")); {
	case mode == "hs256":
		s.sharedSecret = os.Getenv("LOCAL_AUTH_SHARED_SECRET")
		if s.sharedSecret == "" {
			return authSettings{}, errors.New("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
		}
		return s, nil
	case mode != "":
		return authSettings{}, fmt.Errorf("unsupported LOCAL_AUTH_MODE value %q", mode)
	}
	if os.Getenv("AUTH0_TEST_MODE") == "1" {
		s.sharedSecret = os.Getenv("TEST_JWT_SECRET")
		if s.sharedSecret == "" {
			return authSettings{}, errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
		}
		return s, nil
	}
	s.domain = os.Getenv("AUTH0_DOMAIN")
	s.audience = os.Getenv("AUTH0_AUDIENCE")
	if s.domain == "" || s.audience == "" {
		return authSettings{}, errors.New("missing Auth0 config (AUTH0_DOMAIN, AUTH0_AUDIENCE)")
	}
	return s, nil
}

// parseRedisOptions accepts a redis:// URL or an Azure-style
// "host:port,password=...,ssl=True" connection string.
func parseRedisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts
}
