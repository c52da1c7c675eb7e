package middleware

import (
	"github.com/Egham-7/tokentra/internal/models"
	"github.com/gofiber/fiber/v2"
)

// ErrorBody is the {error:{code,message}} envelope every collector endpoint
// answers failures with.
type ErrorBody struct {
	Error models.APIError `json:"error"`
}

// WriteError writes err as an ErrorBody. Causes are never exposed.
func WriteError(c *fiber.Ctx, err error) error {
	appErr := models.SanitizeError(err)
	return c.Status(appErr.GetStatusCode()).JSON(ErrorBody{
		Error: models.APIError{Code: appErr.Code, Message: appErr.Message},
	})
}

// WriteCode writes a failure with an explicit status and code.
func WriteCode(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(ErrorBody{
		Error: models.APIError{Code: code, Message: message},
	})
}
