package mockapi

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/milan604/jsonapi-client/pkg/apperr"
)

// bindError converts a binding or validation failure into an AppError.
func bindError(err error) *apperr.AppError {
	var (
		verrs   validator.ValidationErrors
		typeErr *json.UnmarshalTypeError
		synErr  *json.SyntaxError
	)
	switch {
	case errors.As(err, &verrs):
		appErr := apperr.New(apperr.ErrorCodeValidationFail)
		for _, fe := range verrs {
			appErr.AddSuggestion(fe.Field(), fieldMessage(fe))
		}
		return appErr
	case errors.As(err, &typeErr):
		if typeErr.Field == "" {
			return apperr.New(apperr.ErrorCodeInvalidRequest)
		}
		return apperr.New(apperr.ErrorCodeInvalidRequest).
			AddSuggestion(typeErr.Field, fmt.Sprintf("expected %s", typeErr.Type))
	case errors.As(err, &synErr):
		return apperr.Newf(apperr.ErrorCodeInvalidRequest, "Invalid JSON payload")
	default:
		return apperr.Newf(apperr.ErrorCodeInvalidRequest, "Invalid input: %v", err)
	}
}

func fieldMessage(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fmt.Sprintf("failed on '%s' validation (param=%s)", fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("failed on '%s' validation", fe.Tag())
}

// abortWith writes err as the JSON body with its HTTP status.
func abortWith(c *gin.Context, err *apperr.AppError) {
	if err == nil {
		err = apperr.New(apperr.ErrorCodeInternal)
	}
	status := err.HTTPStatus
	if status == 0 {
		status = 500
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, err)
}
