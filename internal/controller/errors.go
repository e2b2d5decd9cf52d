package controller

import (
	"errors"

	"github.com/igel-oss/rcar-du-vdrm/internal/du"
	"github.com/igel-oss/rcar-du-vdrm/internal/format"
	"github.com/igel-oss/rcar-du-vdrm/internal/models"
)

// toAppError maps display unit errors to API errors.
func toAppError(err error) *models.AppError {
	if err == nil {
		return nil
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, du.ErrInvalidConfiguration), errors.Is(err, format.ErrNotFound):
		return models.ErrBadRequest(err.Error())
	case errors.Is(err, du.ErrResourceBusy):
		return models.ErrConflict(err.Error())
	case errors.Is(err, du.ErrHardwareTimeout):
		return models.ErrTimeout(err.Error())
	case errors.Is(err, du.ErrInterrupted), errors.Is(err, du.ErrClosed):
		return models.ErrUnavailable(err.Error())
	}
	return models.ErrInternal(err.Error())
}
