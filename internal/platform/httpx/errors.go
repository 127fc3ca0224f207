package httpx

import (
	"errors"
	"net/http"

	"github.com/aegis-authz/aegis/internal/shared"
)

// ErrValidation marks malformed or invalid request payloads.
var ErrValidation = errors.New("validation failed")

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound), errors.Is(err, shared.ErrActorNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, shared.ErrInvalidDelegationWindow):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrSoDViolation):
		Problem(w, http.StatusConflict, "Separation of Duties Violation", err.Error())
	case errors.Is(err, shared.ErrDelegationNotPending), errors.Is(err, shared.ErrDelegationNotActive):
		Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, shared.ErrLockHeld):
		Problem(w, http.StatusConflict, "Concurrent Request", err.Error())
	case errors.Is(err, shared.ErrActorInactive), errors.Is(err, shared.ErrInsufficientPermission):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
