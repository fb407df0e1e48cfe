// Command gen-token mints HS256 bearer tokens for a board server running
// with LOCAL_AUTH_MODE=hs256 or AUTH0_TEST_MODE=1.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"
)

type options struct {
	secret   string
	users    []string
	ttl      time.Duration
	audience string
	issuer   string
}

func main() {
	var (
		count    = flag.Int("count", 1, "number of tokens to mint")
		prefix   = flag.String("prefix", "board-user", "user id prefix when count > 1")
		ttl      = flag.Duration("ttl", time.Hour, "token lifetime")
		audience = flag.String("aud", "", "audience claim")
		issuer   = flag.String("iss", "", "issuer claim")
		output   = flag.String("output", "", "write all tokens to this file as a JSON array")
	)
	flag.Parse()

	users, err := userIDs(*count, *prefix, flag.Args())
	if err != nil {
		log.Fatal(err)
	}
	tokens, err := mint(options{
		secret:   secretFromEnv(),
		users:    users,
		ttl:      *ttl,
		audience: *audience,
		issuer:   *issuer,
	}, time.Now())
	if err != nil {
		log.Fatalf("mint: %v", err)
	}
	if *output != "" {
		if err := writeTokens(*output, tokens); err != nil {
			log.Fatalf("write %s: %v", *output, err)
		}
	}
	fmt.Print(tokens[0])
}

func secretFromEnv() string {
	if s := os.Getenv("LOCAL_AUTH_SHARED_SECRET"); s != "" {
		return s
	}
	return os.Getenv("TEST_JWT_SECRET")
}

func userIDs(count int, prefix string, args []string) ([]string, error) {
	switch {
	case count < 1:
		return nil, errors.New("count must be at least 1")
	case len(args) > 0 && count > 1:
		return nil, errors.New("explicit user id cannot be combined with count > 1")
	case len(args) > 0:
		return []string{args[0]}, nil
	case count == 1:
		return []string{prefix}, nil
	}
	users := make([]string, count)
	for i := range users {
		users[i] = fmt.Sprintf("%s-%d", prefix, i+1)
	}
	return users, nil
}

func mint(o options, now time.Time) ([]string, error) {
	if o.secret == "" {
		return nil, errors.New("LOCAL_AUTH_SHARED_SECRET or TEST_JWT_SECRET must be set")
	}
	if o.ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	tokens := make([]string, 0, len(o.users))
	for _, user := range o.users {
		claims := jwt.MapClaims{
			"sub": user,
			"iat": now.Unix(),
			"exp": now.Add(o.ttl).Unix(),
		}
		if o.audience != "" {
			claims["aud"] = o.audience
		}
		if o.issuer != "" {
			claims["iss"] = o.issuer
		}
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(o.secret))
		if err != nil {
			return nil, fmt.Errorf("sign %s: %w", user, err)
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
