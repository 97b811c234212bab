package lifecycle

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/trentmillar/keystone-net/internal/domain"
	"github.com/trentmillar/keystone-net/internal/repository"
)

// RequestKind classifies the request being orchestrated.
type RequestKind string

const (
	// RequestAuthorize is the authorization endpoint issuing a code.
	RequestAuthorize RequestKind = "authorize"
	// RequestAuthorizationCode is the token endpoint exchanging a code.
	RequestAuthorizationCode RequestKind = "authorization_code"
	// RequestRefreshToken is the token endpoint exchanging a refresh token.
	RequestRefreshToken RequestKind = "refresh_token"
	// RequestPassword is the token endpoint processing a password grant.
	RequestPassword RequestKind = "password"
)

// Outcome tells the issuing layer what the response must contain. A non-nil
// Error means the request was rejected and nothing may be issued.
type Outcome struct {
	IncludeIdentityToken     bool
	IncludeRefreshToken      bool
	IncludeAuthorizationCode bool
	Rollover                 Decision
	Parameters               map[string]string
	Error                    *OAuthError
}

// Rejected reports whether the outcome carries a client-facing rejection.
func (o Outcome) Rejected() bool { return o.Error != nil }

// Orchestrator runs the sign-in pipeline: validate the presented grant,
// redeem it exactly once, apply the rollover policy, materialize the backing
// authorization and decide the response shape. It owns the single TryRedeem
// call per request.
type Orchestrator struct {
	guard        *Guard
	policy       *Policy
	materializer *Materializer
	dispatcher   *Dispatcher
	tokens       repository.TokenRepository
	logger       *zap.Logger
	tracer       trace.Tracer
}

// NewOrchestrator wires the lifecycle orchestrator.
func NewOrchestrator(guard *Guard, policy *Policy, materializer *Materializer, dispatcher *Dispatcher, tokens repository.TokenRepository, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.L()
	}
	return &Orchestrator{
		guard:        guard,
		policy:       policy,
		materializer: materializer,
		dispatcher:   dispatcher,
		tokens:       tokens,
		logger:       logger,
		tracer:       otel.Tracer("keystone/lifecycle"),
	}
}

// ProcessSignIn drives one sign-in. A returned error is a fatal caller or
// infrastructure failure; expected rejections travel in Outcome.Error so the
// issuing layer can render them as OAuth2 error responses.
func (o *Orchestrator) ProcessSignIn(ctx context.Context, ticket *domain.Ticket, kind RequestKind, opts Options) (Outcome, error) {
	ctx, span := o.tracer.Start(ctx, "lifecycle.ProcessSignIn",
		trace.WithAttributes(
			attribute.String("request.kind", string(kind)),
			attribute.String("client.id", ticket.ClientID),
		))
	defer span.End()

	if !ticket.Authenticated {
		return Outcome{}, &ConfigurationError{Reason: "the sign-in ticket does not carry an authenticated principal"}
	}

	// An empty granted set falls back to openid when the client asked for it,
	// so a bare authentication still yields a usable identity token. The
	// fallback never widens an explicit grant.
	if len(ticket.Scopes) == 0 && ticket.HasRequestedScope("openid") {
		ticket.Scopes = []string{"openid"}
	}

	outcome := Outcome{
		IncludeIdentityToken:     ticket.HasScope("openid"),
		IncludeRefreshToken:      ticket.HasScope("offline_access"),
		IncludeAuthorizationCode: kind == RequestAuthorize,
		Rollover:                 o.policy.Decide(kind, opts),
	}
	// On refresh exchanges a replacement refresh token only exists when the
	// presented one was rotated away; otherwise the client keeps what it has.
	if kind == RequestRefreshToken && !opts.RollingTokens {
		outcome.IncludeRefreshToken = false
	}

	if redeemable(kind) && !opts.DisableTokenStorage {
		rejection, err := o.consumePresentedToken(ctx, ticket, kind, opts, outcome.Rollover)
		if err != nil {
			return Outcome{}, err
		}
		if rejection != nil {
			outcome.Error = rejection
			o.emit(ctx, EventSignIn, ticket, kind, rejection.Code)
			return outcome, nil
		}
	}

	if err := o.materializer.EnsureAuthorization(ctx, ticket, outcome.IncludeAuthorizationCode, outcome.IncludeRefreshToken, opts); err != nil {
		return Outcome{}, err
	}

	outcome.Parameters = ticket.ExtractPublicProperties()
	o.emit(ctx, EventSignIn, ticket, kind, "")
	return outcome, nil
}

// ProcessSignOut attaches the ticket's public properties to the response and
// records the event. Sign-out never touches the token store.
func (o *Orchestrator) ProcessSignOut(ctx context.Context, ticket *domain.Ticket) Outcome {
	outcome := Outcome{Parameters: ticket.ExtractPublicProperties()}
	o.emit(ctx, EventSignOut, ticket, "", "")
	return outcome
}

// ProcessChallenge attaches the ticket's public properties to the challenge
// response and records the event.
func (o *Orchestrator) ProcessChallenge(ctx context.Context, ticket *domain.Ticket) Outcome {
	outcome := Outcome{Parameters: ticket.ExtractPublicProperties()}
	o.emit(ctx, EventChallenge, ticket, "", "")
	return outcome
}

func redeemable(kind RequestKind) bool {
	return kind == RequestAuthorizationCode || kind == RequestRefreshToken
}

// consumePresentedToken validates the code or refresh token behind the
// exchange and redeems it when the grant requires consumption. It returns a
// non-nil rejection for every state a well-behaved client could still run
// into: unknown, already consumed, revoked, expired or lost races.
func (o *Orchestrator) consumePresentedToken(ctx context.Context, ticket *domain.Ticket, kind RequestKind, opts Options, rollover Decision) (*OAuthError, error) {
	rejection := invalidGrant(kind)

	if ticket.InternalTokenID == 0 {
		return rejection, nil
	}

	token, err := o.tokens.FindByID(ctx, ticket.InternalTokenID)
	if err != nil {
		if err == domain.ErrTokenNotFound {
			return rejection, nil
		}
		return nil, err
	}

	// Codes are consumed on every exchange. A refresh token is only consumed
	// when rolling replaces it; sliding and plain reuse leave it valid, so
	// validity has to be checked explicitly here.
	consume := kind == RequestAuthorizationCode || rollover == DecisionRotate

	if consume {
		if !o.guard.TryRedeem(ctx, token.ID) {
			return rejection, nil
		}
	} else {
		if token.Status != domain.TokenValid || token.IsExpired(time.Now()) {
			return rejection, nil
		}
	}

	switch rollover {
	case DecisionRotate:
		o.policy.RevokeSiblings(ctx, token.AuthorizationID, token.ID)
	case DecisionExtend:
		o.policy.Extend(ctx, token, opts)
	}

	if ticket.InternalAuthorizationID == 0 {
		ticket.InternalAuthorizationID = token.AuthorizationID
	}
	return nil, nil
}

func invalidGrant(kind RequestKind) *OAuthError {
	if kind == RequestRefreshToken {
		return newOAuthError(ErrorInvalidGrant, descriptionInvalidRefresh)
	}
	return newOAuthError(ErrorInvalidGrant, descriptionInvalidCode)
}

func (o *Orchestrator) emit(ctx context.Context, eventType string, ticket *domain.Ticket, kind RequestKind, errorCode string) {
	if o.dispatcher == nil {
		return
	}
	event := NewEvent(eventType)
	event.Subject = ticket.Subject
	event.ClientID = ticket.ClientID
	event.Grant = string(kind)
	event.ErrorCode = errorCode
	o.dispatcher.Dispatch(ctx, event)
}
