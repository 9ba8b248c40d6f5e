// Command token issues an access token for a user ID, signed with the
// server's JWT secret. It is meant for local development and smoke tests.
//
// The secret and lifetime are read from SCRY_AUTH_JWT_SECRET and
// SCRY_AUTH_TOKEN_LIFETIME_MINUTES unless given as flags.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/phrazzld/scry-jobs/internal/config"
	"github.com/phrazzld/scry-jobs/internal/service/auth"
)

func main() {
	user := flag.String("user", "", "user ID to place in the token subject")
	secret := flag.String("secret", "", "JWT signing secret (defaults to SCRY_AUTH_JWT_SECRET)")
	lifetime := flag.Int("lifetime", 0, "token lifetime in minutes (defaults to SCRY_AUTH_TOKEN_LIFETIME_MINUTES or 60)")
	flag.Parse()

	token, err := issue(*user, authConfig(*secret, *lifetime))
	if err != nil {
		fmt.Fprintf(os.Stderr, "token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func authConfig(secret string, lifetime int) config.AuthConfig {
	v := viper.New()
	v.SetEnvPrefix("SCRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("auth.token_lifetime_minutes", 60)

	cfg := config.AuthConfig{
		JWTSecret:            v.GetString("auth.jwt_secret"),
		TokenLifetimeMinutes: v.GetInt("auth.token_lifetime_minutes"),
	}
	if secret != "" {
		cfg.JWTSecret = secret
	}
	if lifetime > 0 {
		cfg.TokenLifetimeMinutes = lifetime
	}
	return cfg
}

func issue(user string, cfg config.AuthConfig) (string, error) {
	if strings.TrimSpace(user) == "" {
		return "", errors.New("-user is required")
	}
	jwtService, err := auth.NewJWTService(cfg)
	if err != nil {
		return "", err
	}
	return jwtService.GenerateToken(context.Background(), user)
}
