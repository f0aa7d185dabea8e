// Команда seed-admin создаёт учётную запись администратора
// или повышает существующую. Пароль можно передать через SEED_ADMIN_PASSWORD.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/magabrotheeeer/license-keys/internal/app/licensekeys"
	"github.com/magabrotheeeer/license-keys/internal/config"
	"github.com/magabrotheeeer/license-keys/internal/lib/jwt"
	"github.com/magabrotheeeer/license-keys/internal/metrics"
	"github.com/magabrotheeeer/license-keys/internal/services/auth"
)

func main() {
	var username, password, email string
	flag.StringVar(&username, "username", "", "admin username")
	flag.StringVar(&password, "password", os.Getenv("SEED_ADMIN_PASSWORD"), "admin password")
	flag.StringVar(&email, "email", "", "admin email, defaults to <username>@<policy.email_domain>")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	if username == "" || password == "" {
		logger.Error("username and password are required")
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.MustLoad()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := licensekeys.OpenStorage(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Error("failed to open storage", slog.Any("err", err))
		os.Exit(1)
	}
	defer db.Close()

	service := auth.NewAuthService(db,
		jwt.NewJWTMaker(cfg.JWTToken.SecretKey, cfg.JWTToken.TokenTTL),
		auth.Config{UserLimit: cfg.Policy.UserLimit, EmailDomain: cfg.Policy.EmailDomain},
		metrics.Discard(), logger)

	acc, created, err := service.SeedAdmin(ctx, username, password, email)
	if err != nil {
		logger.Error("failed to seed admin", slog.Any("err", err))
		db.Close()
		os.Exit(1)
	}

	if created {
		logger.Info("admin created", slog.String("uid", acc.UID), slog.String("username", acc.Username))
	} else {
		logger.Info("existing account promoted to admin", slog.String("uid", acc.UID), slog.String("username", acc.Username))
	}
}
