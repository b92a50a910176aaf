package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/quorum/internal/membership"
	"github.com/odyssey-erp/quorum/internal/policy"
	"github.com/odyssey-erp/quorum/internal/state"
)

// RespondError maps engine errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, membership.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, membership.ErrAccessDenied):
		Problem(w, http.StatusForbidden, "Access Denied", err.Error())
	case errors.Is(err, policy.ErrDenied):
		Problem(w, http.StatusForbidden, "Policy Denied", err.Error())
	case errors.Is(err, policy.ErrNotOwner):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, state.ErrLastOwner):
		Problem(w, http.StatusConflict, "Last Owner", err.Error())
	case errors.Is(err, policy.ErrUnknownVersion),
		errors.Is(err, membership.ErrInvalidRole),
		errors.Is(err, membership.ErrUnknownAction),
		errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
