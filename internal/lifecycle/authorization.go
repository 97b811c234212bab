package lifecycle

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/trentmillar/keystone-net/internal/domain"
	"github.com/trentmillar/keystone-net/internal/repository"
)

// Materializer creates the ad hoc authorization anchoring a code or refresh
// token when the ticket does not already carry one.
type Materializer struct {
	authorizations repository.AuthorizationRepository
	node           *snowflake.Node
	logger         *zap.Logger
}

// NewMaterializer wires the authorization materializer.
func NewMaterializer(authorizations repository.AuthorizationRepository, node *snowflake.Node, logger *zap.Logger) *Materializer {
	if logger == nil {
		logger = zap.L()
	}
	return &Materializer{authorizations: authorizations, node: node, logger: logger}
}

// EnsureAuthorization links an authorization onto the ticket when one will
// be needed. It is a no-op when the ticket already carries an authorization
// id, when authorization storage is disabled, or when neither a code nor a
// refresh token will be part of the response, since access-token-only responses
// never need a standing authorization. Idempotent given the same ticket
// state.
func (m *Materializer) EnsureAuthorization(ctx context.Context, ticket *domain.Ticket, includeCode, includeRefresh bool, opts Options) error {
	if ticket.InternalAuthorizationID != 0 {
		return nil
	}
	if opts.DisableAuthorizationStorage {
		return nil
	}
	if !includeCode && !includeRefresh {
		return nil
	}

	authorization := domain.Authorization{
		ID:       m.node.Generate().Int64(),
		Subject:  ticket.Subject,
		ClientID: ticket.ClientID,
		Type:     domain.AuthorizationAdHoc,
		Status:   domain.AuthorizationValid,
		Scopes:   append([]string(nil), ticket.Scopes...),
	}
	for key, value := range ticket.Properties {
		if authorization.Properties == nil {
			authorization.Properties = make(map[string]string)
		}
		authorization.Properties[key] = value
	}

	created, err := m.authorizations.Create(ctx, authorization)
	if err != nil {
		return fmt.Errorf("create ad hoc authorization: %w", err)
	}

	ticket.InternalAuthorizationID = created.ID
	m.logger.Debug("ad hoc authorization created",
		zap.Int64("authorization_id", created.ID),
		zap.String("subject", created.Subject),
		zap.String("client_id", created.ClientID))
	return nil
}
