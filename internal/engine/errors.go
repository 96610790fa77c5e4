package engine

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"automation-core/internal/metadata"
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(kind, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %s not found", kind, id),
	}
}

func InvalidPayloadError(msg string) *AppError {
	return &AppError{Code: "INVALID_PAYLOAD", Status: 400, Message: msg}
}

func ValidationError(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  422,
		Message: "Validation failed",
		Details: details,
	}
}

// ValidationErrorFromIssues converts metadata validation issues, returning
// nil when there are none.
func ValidationErrorFromIssues(issues []metadata.FieldIssue) *AppError {
	if len(issues) == 0 {
		return nil
	}
	details := make([]ErrorDetail, len(issues))
	for i, is := range issues {
		details[i] = ErrorDetail{Field: is.Field, Rule: is.Rule, Message: is.Message}
	}
	return ValidationError(details)
}

// ErrorHandler renders AppErrors as-is and everything else as a generic
// error body. It is installed as the fiber app's ErrorHandler.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code := strings.ToUpper(strings.ReplaceAll(http.StatusText(fiberErr.Code), " ", "_"))
		return c.Status(fiberErr.Code).JSON(ErrorResponse{
			Error: &AppError{Code: code, Message: fiberErr.Message},
		})
	}

	log.WithField("path", c.Path()).Errorf("Unhandled error: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Error: &AppError{
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
		},
	})
}
