package handlers

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.cambio/internal/guard"
	"uk.co.dudmesh.cambio/internal/model"
	"uk.co.dudmesh.cambio/pkg/otp"
)

type VerificationService interface {
	EnsureUser(ctx context.Context, email, name string) (*model.User, bool, error)
	Register(ctx context.Context, params *model.RegisterUserParams) (*model.User, error)
	IssueCode(ctx context.Context, email, name, requestID string) (string, error)
	VerifyCode(ctx context.Context, email, code string) error
	MarkVerified(ctx context.Context, email string) (int, error)
}

type Guard interface {
	Begin(ctx context.Context, email string) (guard.Release, error)
}

type Options struct {
	// ExposeTestCode echoes issued codes back to the caller. Never set in
	// production.
	ExposeTestCode bool
}

type sendVerificationParams struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type verifyParams struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type updateVerificationParams struct {
	Email string `json:"email"`
}

func SendVerification(svc VerificationService, g Guard, opts Options) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &sendVerificationParams{}
		if err := c.Bind(params); err != nil {
			return err
		}
		email, msg := checkEmail(params.Email)
		if msg != "" {
			return invalid(c, msg)
		}
		return issue(c, svc, g, opts, email, strings.TrimSpace(params.Name), nil)
	}
}

// RequestVerification serves GET /verify?email=, issuing a fresh code to the
// address.
func RequestVerification(svc VerificationService, g Guard, opts Options) echo.HandlerFunc {
	return func(c echo.Context) error {
		email, msg := checkEmail(c.QueryParam("email"))
		if msg != "" {
			return invalid(c, msg)
		}
		user, _, err := svc.EnsureUser(c.Request().Context(), email, "")
		if err != nil {
			return err
		}
		return issue(c, svc, g, opts, user.Email, user.Name, nil)
	}
}

func Verify(svc VerificationService) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &verifyParams{}
		if err := c.Bind(params); err != nil {
			return err
		}
		email := model.NormalizeEmail(params.Email)
		code := strings.TrimSpace(params.Code)
		if email == "" || code == "" {
			return invalid(c, model.MessageCodeRequired)
		}

		if !otp.Valid(code) {
			return fail(c, model.MessageCodeIncorrect)
		}

		ctx := c.Request().Context()
		if _, _, err := svc.EnsureUser(ctx, email, ""); err != nil {
			return err
		}
		if err := svc.VerifyCode(ctx, email, code); err != nil {
			if isFlowError(err) {
				return fail(c, model.MessageFor(err))
			}
			return err
		}
		return ok(c, model.MessageVerified)
	}
}

func RegisterUser(svc VerificationService, g Guard, opts Options) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &model.RegisterUserParams{}
		if err := c.Bind(params); err != nil {
			return err
		}
		email, msg := checkEmail(params.Email)
		if msg != "" {
			return invalid(c, msg)
		}
		params.Email = email

		user, err := svc.Register(c.Request().Context(), params)
		if err != nil {
			return err
		}
		if user.Verified {
			return c.JSON(200, &Response{Success: true, Message: model.MessageRegistered, User: user})
		}
		return issue(c, svc, g, opts, user.Email, user.Name, user)
	}
}

// UpdateVerification marks an address verified without a code.
func UpdateVerification(svc VerificationService) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &updateVerificationParams{}
		if err := c.Bind(params); err != nil {
			return err
		}
		email, msg := checkEmail(params.Email)
		if msg != "" {
			return invalid(c, msg)
		}
		n, err := svc.MarkVerified(c.Request().Context(), email)
		if err != nil {
			return err
		}
		log.Infof("handlers: %s marked verified (%d records)", email, n)
		return ok(c, model.MessageStatusUpdated)
	}
}

func issue(c echo.Context, svc VerificationService, g Guard, opts Options, email, name string, user *model.User) error {
	ctx := c.Request().Context()

	release, err := g.Begin(ctx, email)
	if err != nil {
		if isFlowError(err) {
			return fail(c, model.MessageFor(err))
		}
		return err
	}
	sent := false
	defer func() { release(sent) }()

	code, err := svc.IssueCode(ctx, email, name, requestID(c))
	if err != nil {
		if isFlowError(err) {
			log.Warnf("handlers: issuing code for %s: %+v", email, err)
			return fail(c, model.MessageFor(err))
		}
		return err
	}
	sent = true

	resp := &Response{Success: true, Message: model.MessageCodeSent, User: user}
	if opts.ExposeTestCode {
		resp.TestCode = code
	}
	return c.JSON(200, resp)
}

func checkEmail(raw string) (string, string) {
	email := model.NormalizeEmail(raw)
	if email == "" {
		return "", model.MessageEmailRequired
	}
	if !validEmail(email) {
		return "", model.MessageInvalidEmail
	}
	return email, ""
}
