package httpadapter

import (
	"net/http"

	"github.com/finbotics/business-assistant/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrValidation):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrApprovalRequired), domain.IsKind(err, domain.ErrPlanActive):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrLLMUnavailable), domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
