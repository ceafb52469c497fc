package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"rag-apps/internal/apperr"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string      `json:"error"`
	Kind  apperr.Kind `json:"kind,omitempty"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	switch apperr.KindOf(err) {
	case apperr.KindInputInvalid:
		return fiber.StatusBadRequest
	case apperr.KindIndexNotFound:
		return fiber.StatusNotFound
	case apperr.KindIndexDimensionMismatch:
		return fiber.StatusConflict
	case apperr.KindEmbeddingUnavailable, apperr.KindGenerationUnavailable, apperr.KindDelegatedExecutionFailure:
		return fiber.StatusBadGateway
	case apperr.KindIndexUnavailable, apperr.KindStoreUnavailable:
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

func errorHandler(c *fiber.Ctx, err error) error {
	status := StatusFor(err)
	resp := ErrorResponse{Kind: apperr.KindOf(err)}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		resp.Error = fe.Message
	} else {
		resp.Error = apperr.UserMessage(err)
	}
	ev := log.Warn()
	if status >= fiber.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).Int("status", status).Str("path", c.Path()).Msg("Request failed")
	return c.Status(status).JSON(resp)
}
