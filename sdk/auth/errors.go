package auth

import (
	"github.com/quanta-haba/modelauth/internal/auth"
)

// Error kinds surfaced by the client, re-exported so integrating code can
// classify failures without importing internal packages.
var (
	ErrListenerBind         = auth.ErrListenerBind
	ErrAuthorizationDenied  = auth.ErrAuthorizationDenied
	ErrStateMismatch        = auth.ErrStateMismatch
	ErrCallbackTimeout      = auth.ErrCallbackTimeout
	ErrTokenExchange        = auth.ErrTokenExchange
	ErrRefreshFailed        = auth.ErrRefreshFailed
	ErrStorage              = auth.ErrStorage
	ErrNotAuthenticated     = auth.ErrNotAuthenticated
	ErrAuthorizationPending = auth.ErrAuthorizationPending
)

// IsKind reports whether err carries the same error kind as base, e.g.
// IsKind(err, ErrStateMismatch).
func IsKind(err error, base *auth.AuthenticationError) bool {
	return auth.IsAuthErrorType(err, base)
}

// FriendlyMessage maps an error to the single human-readable message the
// integrating UI shows for it.
func FriendlyMessage(err error) string {
	return auth.GetUserFriendlyMessage(err)
}
