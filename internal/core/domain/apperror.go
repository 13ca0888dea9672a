package domain

import (
	"errors"

	apperrors "syncroom/pkg/errors"
	"syncroom/pkg/validation"
)

// ToAppError maps domain and validation errors onto AppError codes. Unknown
// errors become INTERNAL_ERROR.
func ToAppError(err error) *apperrors.AppError {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr
	}

	var out *apperrors.AppError
	switch {
	case errors.Is(err, ErrRoomNotFound):
		out = apperrors.NewAppError(apperrors.ErrCodeRoomNotFound, err.Error(), 404)
	case errors.Is(err, ErrRoomExpired):
		out = apperrors.NewAppError(apperrors.ErrCodeRoomExpired, err.Error(), 410)
	case errors.Is(err, ErrNotEntitled):
		out = apperrors.NewAppError(apperrors.ErrCodeNotEntitled, err.Error(), 403)
	case errors.Is(err, ErrRoomExists):
		out = apperrors.NewConflictError(err.Error())
	case errors.Is(err, ErrParticipantNotFound), errors.Is(err, ErrLinkNotFound):
		out = apperrors.NewAppError(apperrors.ErrCodeNotFound, err.Error(), 404)
	case errors.Is(err, ErrInvalidRole), errors.Is(err, validation.ErrInvalid):
		out = apperrors.NewInvalidInputError(err.Error())
	default:
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "internal error", 500)
	}
	out.Cause = err
	return out
}
