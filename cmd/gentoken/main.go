// cmd/gentoken: mints a development access token for the cash API.
// Uso: go run ./cmd/gentoken --user u-1 --org org-1 --role cajero
package main

import (
	"fmt"
	"os"
	"time"

	"cashdrawer/internal/config"
	"cashdrawer/internal/middleware"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	user := flag.String("user", "", "user id (required)")
	username := flag.String("username", "", "display name, defaults to the user id")
	org := flag.String("org", "", "organization id; empty mints a token without organization")
	role := flag.String("role", middleware.RoleCashier, "cajero | supervisor | administrador")
	ttl := flag.Duration("ttl", 0, "token lifetime; defaults to JWT_EXPIRATION_HOURS")
	flag.Parse()

	if *user == "" {
		flag.Usage()
		os.Exit(2)
	}
	switch *role {
	case middleware.RoleCashier, middleware.RoleSupervisor, middleware.RoleAdmin:
	default:
		log.Fatal().Str("role", *role).Msg("unknown role")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET is required")
	}
	if *ttl <= 0 {
		*ttl = time.Duration(cfg.JWTExpirationHours) * time.Hour
	}
	if *username == "" {
		*username = *user
	}

	token, err := middleware.IssueToken(cfg.JWTSecret, middleware.JWTClaims{
		UserID:         *user,
		Username:       *username,
		Role:           *role,
		OrganizationID: *org,
	}, *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to sign token")
	}
	fmt.Println(token)
}
