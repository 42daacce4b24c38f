package serverutils

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"ai-pagechat-be/pkg/ground"
)

// Response is the uniform envelope for every API reply.
type Response[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}

func SuccessResponse[T any](message string, data T) Response[T] {
	return Response[T]{
		Success: true,
		Message: message,
		Data:    data,
	}
}

func ErrorResponse(message string) Response[any] {
	return Response[any]{
		Success: false,
		Message: message,
	}
}

var validate = validator.New()

// ValidateRequest runs struct-tag validation on a bound request body.
func ValidateRequest(req interface{}) error {
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

// ErrorHandlerMiddleware maps the pipeline error taxonomy to HTTP statuses.
// Anything unrecognized becomes a 500 with its message preserved.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return ctx.Status(fiberErr.Code).JSON(ErrorResponse(fiberErr.Message))
		}

		var busyErr *ground.SessionBusyError
		if errors.As(err, &busyErr) {
			return ctx.Status(fiber.StatusConflict).JSON(ErrorResponse(busyErr.Error()))
		}

		var closedErr *ground.SessionClosedError
		if errors.As(err, &closedErr) {
			return ctx.Status(fiber.StatusGone).JSON(ErrorResponse(closedErr.Error()))
		}

		var unavailableErr *ground.ContentUnavailableError
		if errors.As(err, &unavailableErr) {
			return ctx.Status(fiber.StatusUnprocessableEntity).JSON(ErrorResponse(unavailableErr.Error()))
		}

		var llmErr *ground.LLMRequestError
		if errors.As(err, &llmErr) {
			return ctx.Status(fiber.StatusBadGateway).JSON(ErrorResponse(llmErr.Error()))
		}

		return ctx.Status(fiber.StatusInternalServerError).JSON(ErrorResponse(err.Error()))
	}
}
