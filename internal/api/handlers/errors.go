package handlers

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/acme/voice-campaign-core/pkg/errors"
)

var statusBySentinel = []struct {
	sentinel error
	code     int
}{
	{apperrors.ErrValidation, http.StatusBadRequest},
	{apperrors.ErrNotFound, http.StatusNotFound},
	{apperrors.ErrConflict, http.StatusConflict},
	{apperrors.ErrPrecondition, http.StatusUnprocessableEntity},
	{apperrors.ErrPolicy, http.StatusConflict},
	{apperrors.ErrVendor, http.StatusBadGateway},
	{apperrors.ErrUnavailable, http.StatusServiceUnavailable},
	{apperrors.ErrQuotaExceeded, http.StatusTooManyRequests},
}

// translateError maps domain sentinels to HTTP errors carrying the human readable reason.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	for _, m := range statusBySentinel {
		if errors.Is(err, m.sentinel) {
			return fiber.NewError(m.code, apperrors.Reason(err))
		}
	}
	return err
}

func badRequest(message string) error {
	return fiber.NewError(http.StatusBadRequest, message)
}
