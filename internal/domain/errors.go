package domain

import "errors"

var (
	// ErrTokenNotFound signals a token id or reference with no backing record.
	ErrTokenNotFound = errors.New("keystone: token not found")
	// ErrAuthorizationNotFound signals a missing authorization record.
	ErrAuthorizationNotFound = errors.New("keystone: authorization not found")
	// ErrClientNotFound signals an unknown client identifier.
	ErrClientNotFound = errors.New("keystone: client not found")
	// ErrUserNotFound signals an unknown subject.
	ErrUserNotFound = errors.New("keystone: user not found")
	// ErrKeyNotFound signals that no active signing key exists yet.
	ErrKeyNotFound = errors.New("keystone: signing key not found")
	// ErrTicketExpired signals a self-contained ticket past its deadline.
	ErrTicketExpired = errors.New("keystone: ticket expired")
)
