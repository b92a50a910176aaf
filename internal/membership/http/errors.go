package membershiphttp

import (
	"errors"

	"github.com/odyssey-erp/quorum/internal/membership"
	"github.com/odyssey-erp/quorum/internal/policy"
)

// isDecisionError distinguishes a negative authorization answer from
// an operational failure; the former is a 200 with allowed=false on
// the authz endpoint.
func isDecisionError(err error) bool {
	return errors.Is(err, membership.ErrAccessDenied) ||
		errors.Is(err, membership.ErrUnknownAction) ||
		errors.Is(err, policy.ErrDenied)
}
