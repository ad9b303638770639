package domain

import (
	"errors"
	"fmt"
	"net/http"

	apperrors "roomsignal/pkg/errors"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrRoomFull          = errors.New("room is full")
	ErrAlreadyJoined     = errors.New("connection already joined a room")
	ErrNotInSession      = errors.New("not in a room")
	ErrIncompatible      = errors.New("incompatible media parameters")
	ErrEngineUnavailable = errors.New("media engine unavailable")
	ErrInvalidPayload    = errors.New("invalid payload")
	ErrRoomExists        = errors.New("room already exists")
	ErrPeerExists        = errors.New("peer already exists")
)

// Specific lookups; all of them satisfy errors.Is(err, ErrNotFound).
var (
	ErrRoomNotFound      = fmt.Errorf("room %w", ErrNotFound)
	ErrPeerNotFound      = fmt.Errorf("peer %w", ErrNotFound)
	ErrTransportNotFound = fmt.Errorf("transport %w", ErrNotFound)
	ErrProducerNotFound  = fmt.Errorf("producer %w", ErrNotFound)
	ErrConsumerNotFound  = fmt.Errorf("consumer %w", ErrNotFound)
	ErrHandleClosed      = fmt.Errorf("media handle closed or %w", ErrNotFound)
)

// IsUserFacing reports whether err belongs to the part of the taxonomy that
// is caused by the caller rather than by the media engine.
func IsUserFacing(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrRoomFull) ||
		errors.Is(err, ErrAlreadyJoined) ||
		errors.Is(err, ErrNotInSession) ||
		errors.Is(err, ErrIncompatible) ||
		errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrRoomExists)
}

// EngineFailure wraps an unexpected media engine error as ErrEngineUnavailable.
// Errors that already belong to the taxonomy are returned untouched.
func EngineFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsUserFacing(err) || errors.Is(err, ErrEngineUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, ErrEngineUnavailable, err)
}

// ToAppError maps a domain error onto the application error codes shared by
// the signalling and REST surfaces.
func ToAppError(err error) *apperrors.AppError {
	if err == nil {
		return nil
	}
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr
	}

	var code apperrors.ErrorCode
	var status int
	switch {
	case errors.Is(err, ErrNotFound):
		code, status = apperrors.ErrCodeNotFound, http.StatusNotFound
	case errors.Is(err, ErrRoomFull):
		code, status = apperrors.ErrCodeRoomFull, http.StatusConflict
	case errors.Is(err, ErrAlreadyJoined):
		code, status = apperrors.ErrCodeAlreadyJoined, http.StatusConflict
	case errors.Is(err, ErrNotInSession):
		code, status = apperrors.ErrCodeNotInSession, http.StatusConflict
	case errors.Is(err, ErrIncompatible):
		code, status = apperrors.ErrCodeIncompatible, http.StatusUnprocessableEntity
	case errors.Is(err, ErrEngineUnavailable):
		code, status = apperrors.ErrCodeEngineUnavailable, http.StatusServiceUnavailable
	case errors.Is(err, ErrInvalidPayload):
		code, status = apperrors.ErrCodeInvalidInput, http.StatusBadRequest
	case errors.Is(err, ErrRoomExists):
		code, status = apperrors.ErrCodeConflict, http.StatusConflict
	default:
		code, status = apperrors.ErrCodeInternal, http.StatusInternalServerError
	}
	return apperrors.WrapError(err, code, err.Error(), status)
}
