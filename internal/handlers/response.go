package handlers

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/labstack/echo/v4"

	"uk.co.dudmesh.cambio/internal/model"
)

type Response struct {
	Success  bool        `json:"success"`
	Message  string      `json:"message"`
	TestCode string      `json:"testCode,omitempty"`
	User     *model.User `json:"user,omitempty"`
}

func ok(c echo.Context, message string) error {
	return c.JSON(http.StatusOK, &Response{Success: true, Message: message})
}

func fail(c echo.Context, message string) error {
	return c.JSON(http.StatusOK, &Response{Message: message})
}

func invalid(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, &Response{Message: message})
}

// flowErrors are outcomes the visitor can act on. They are reported with
// success=false rather than as server errors.
var flowErrors = []error{
	model.ErrorNoActiveCode,
	model.ErrorCodeExpired,
	model.ErrorCodeIncorrect,
	model.ErrorTooManyAttempts,
	model.ErrorSaveInProgress,
	model.ErrorRequestInProgress,
	model.ErrorEmailSentRecently,
	model.ErrorUserNotFound,
	model.ErrorSendFailed,
}

func isFlowError(err error) bool {
	for _, e := range flowErrors {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email, "@")
}

func requestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}
