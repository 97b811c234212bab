package lifecycle

import "time"

// Options is the configuration surface the lifecycle engine consumes. It is
// built once at startup from the process configuration and passed by value
// into every orchestration.
type Options struct {
	// RollingTokens issues a new refresh token on every refresh exchange and
	// redeems the presented one.
	RollingTokens bool
	// SlidingExpiration extends the presented refresh token's lifetime in
	// place instead of replacing it. Ignored while RollingTokens is set.
	SlidingExpiration bool
	// DisableTokenStorage turns off token persistence and with it every
	// redemption/revocation routine.
	DisableTokenStorage bool
	// DisableAuthorizationStorage turns off ad hoc authorization creation.
	DisableAuthorizationStorage bool
	// RefreshTokenLifetime is the lifetime applied to new refresh tokens and
	// to sliding extensions.
	RefreshTokenLifetime time.Duration
}

// Validate rejects option combinations the engine cannot honor. Violations
// are caller bugs, reported as ConfigurationError and expected to abort
// startup.
func (o Options) Validate() error {
	if o.RefreshTokenLifetime <= 0 {
		return &ConfigurationError{Reason: "the refresh token lifetime must be positive"}
	}
	if o.RollingTokens && o.DisableTokenStorage {
		return &ConfigurationError{Reason: "rolling tokens cannot be used when token storage is disabled"}
	}
	if o.SlidingExpiration && o.DisableTokenStorage && !o.RollingTokens {
		return &ConfigurationError{Reason: "sliding expiration must be disabled when turning off token storage if rolling tokens are not used"}
	}
	return nil
}
