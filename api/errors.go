package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/vladislavfirsov/content-pipeline/contracts"
	"github.com/vladislavfirsov/content-pipeline/internal/service"
)

// ErrorCode represents an API error code.
type ErrorCode string

// Error codes for API responses.
const (
	CodeInvalidInput         ErrorCode = "invalid_input"
	CodeInvalidConfig        ErrorCode = "invalid_config"
	CodeTaskNotFound         ErrorCode = "task_not_found"
	CodeDuplicateTask        ErrorCode = "duplicate_task"
	CodeCyclicDependency     ErrorCode = "cyclic_dependency"
	CodeUnresolvedDependency ErrorCode = "unresolved_dependency"
	CodeUnsatisfiedInput     ErrorCode = "unsatisfied_input"
	CodeAmbiguousInput       ErrorCode = "ambiguous_input"
	CodeTemplateNotFound     ErrorCode = "template_not_found"
	CodeJobNotFound          ErrorCode = "job_not_found"
	CodeJobFinalized         ErrorCode = "job_finalized"
	CodeJobNotActive         ErrorCode = "job_not_active"
	CodeShuttingDown         ErrorCode = "shutting_down"
	CodeStorageUnavailable   ErrorCode = "storage_unavailable"
	CodeCancelled            ErrorCode = "cancelled"
	CodeTimeout              ErrorCode = "timeout"
	CodeInternalError        ErrorCode = "internal_error"
)

// HTTPError represents an error with an associated HTTP status code.
type HTTPError struct {
	StatusCode int
	Code       ErrorCode
	Err        error
}

func (e *HTTPError) Error() string {
	return e.Err.Error()
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// MapError maps a domain error to an HTTPError.
func MapError(err error) *HTTPError {
	if err == nil {
		return nil
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code := CodeInternalError
		if fe.Code < http.StatusInternalServerError {
			code = CodeInvalidInput
		}
		return &HTTPError{fe.Code, code, err}
	}

	switch {
	case errors.Is(err, contracts.ErrInvalidInput):
		return &HTTPError{http.StatusBadRequest, CodeInvalidInput, err}

	case errors.Is(err, contracts.ErrJobNotFound):
		return &HTTPError{http.StatusNotFound, CodeJobNotFound, err}

	case errors.Is(err, contracts.ErrTemplateNotFound):
		return &HTTPError{http.StatusNotFound, CodeTemplateNotFound, err}

	case errors.Is(err, contracts.ErrJobFinalized):
		return &HTTPError{http.StatusConflict, CodeJobFinalized, err}

	case errors.Is(err, service.ErrJobNotActive):
		return &HTTPError{http.StatusConflict, CodeJobNotActive, err}

	case errors.Is(err, service.ErrShuttingDown):
		return &HTTPError{http.StatusServiceUnavailable, CodeShuttingDown, err}

	case errors.Is(err, contracts.ErrStorage):
		return &HTTPError{http.StatusServiceUnavailable, CodeStorageUnavailable, err}
	}

	if contracts.IsConfigurationError(err) {
		return &HTTPError{http.StatusUnprocessableEntity, configCode(err), err}
	}

	switch {
	case errors.Is(err, context.Canceled):
		// 499: nginx convention for "client closed request"
		return &HTTPError{499, CodeCancelled, err}

	case errors.Is(err, context.DeadlineExceeded):
		return &HTTPError{http.StatusGatewayTimeout, CodeTimeout, err}

	default:
		return &HTTPError{http.StatusInternalServerError, CodeInternalError, err}
	}
}

// configCode picks the code of the most specific sentinel in err.
func configCode(err error) ErrorCode {
	switch {
	case errors.Is(err, contracts.ErrCyclicDependency):
		return CodeCyclicDependency
	case errors.Is(err, contracts.ErrUnresolvedDependency):
		return CodeUnresolvedDependency
	case errors.Is(err, contracts.ErrUnsatisfiedInput):
		return CodeUnsatisfiedInput
	case errors.Is(err, contracts.ErrAmbiguousInput):
		return CodeAmbiguousInput
	case errors.Is(err, contracts.ErrTaskNotFound):
		return CodeTaskNotFound
	case errors.Is(err, contracts.ErrDuplicateTask):
		return CodeDuplicateTask
	default:
		return CodeInvalidConfig
	}
}

// errorHandler renders every error returned by a handler as an ErrorDTO.
func errorHandler(c *fiber.Ctx, err error) error {
	httpErr := MapError(err)
	return c.Status(httpErr.StatusCode).JSON(ErrorDTO{
		Code:    string(httpErr.Code),
		Message: httpErr.Error(),
	})
}
