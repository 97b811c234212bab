package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/trentmillar/keystone-net/internal/config"
	"github.com/trentmillar/keystone-net/internal/domain"
	"github.com/trentmillar/keystone-net/internal/jwt"
	"github.com/trentmillar/keystone-net/internal/password"
	"github.com/trentmillar/keystone-net/internal/repository"
)

// Seed registers a startup hook creating the default client, the signing key
// and, when configured, a development user. Existing records are left alone
// so the hook is safe to run on every boot.
func Seed(lc fx.Lifecycle, cfg config.Config, clients repository.ClientRepository, users repository.UserRepository, keys *jwt.KeyManager, node *snowflake.Node, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return seed(ctx, cfg, clients, users, keys, node, logger)
		},
	})
}

func seed(ctx context.Context, cfg config.Config, clients repository.ClientRepository, users repository.UserRepository, keys *jwt.KeyManager, node *snowflake.Node, logger *zap.Logger) error {
	if _, err := keys.EnsureSigningKey(ctx); err != nil {
		return fmt.Errorf("bootstrap signing key: %w", err)
	}

	if err := seedClient(ctx, cfg, clients, node, logger); err != nil {
		return err
	}
	return seedUser(ctx, cfg, users, node, logger)
}

func seedClient(ctx context.Context, cfg config.Config, clients repository.ClientRepository, node *snowflake.Node, logger *zap.Logger) error {
	clientID := strings.TrimSpace(cfg.BootstrapClientID)
	if clientID == "" {
		return nil
	}

	if _, err := clients.GetByClientID(ctx, clientID); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrClientNotFound) {
		return fmt.Errorf("bootstrap client lookup: %w", err)
	}

	client := domain.Client{
		ID:           node.Generate().Int64(),
		ClientID:     clientID,
		ClientSecret: strings.TrimSpace(cfg.BootstrapClientSecret),
		RedirectURIs: []string{cfg.BootstrapRedirectURI},
		GrantTypes:   []string{"authorization_code", "refresh_token", "password"},
		Scopes:       []string{"openid", "profile", "email", "offline_access"},
	}
	if _, err := clients.Create(ctx, client); err != nil {
		return fmt.Errorf("bootstrap create client: %w", err)
	}
	logger.Info("bootstrap client created", zap.String("client_id", clientID))
	return nil
}

func seedUser(ctx context.Context, cfg config.Config, users repository.UserRepository, node *snowflake.Node, logger *zap.Logger) error {
	email := strings.ToLower(strings.TrimSpace(cfg.BootstrapUserEmail))
	if email == "" || strings.TrimSpace(cfg.BootstrapUserPassword) == "" {
		return nil
	}

	if _, err := users.GetByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return fmt.Errorf("bootstrap user lookup: %w", err)
	}

	hashed, err := password.Hash(cfg.BootstrapUserPassword)
	if err != nil {
		return fmt.Errorf("bootstrap hash password: %w", err)
	}

	user := domain.User{
		ID:            node.Generate().Int64(),
		Email:         email,
		EmailVerified: true,
		PasswordHash:  hashed,
		Name:          "Development User",
		Status:        "ACTIVE",
	}
	if _, err := users.Create(ctx, user); err != nil {
		return fmt.Errorf("bootstrap create user: %w", err)
	}
	logger.Info("bootstrap user created", zap.String("email", email))
	return nil
}
