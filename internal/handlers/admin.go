package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"uk.co.dudmesh.cambio/internal/auth"
	"uk.co.dudmesh.cambio/internal/model"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 500
)

type RateService interface {
	Get(ctx context.Context, pair model.RatePair) (*model.Rate, error)
	Update(ctx context.Context, pair model.RatePair, params *model.UpdateRateParams, updatedBy string) (*model.Rate, error)
}

type NotificationLister interface {
	ListNotifications(ctx context.Context, limit int) ([]model.Notification, error)
}

type Authenticator interface {
	Login(password string) (string, error)
}

type loginParams struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func Login(authenticator Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &loginParams{}
		if err := c.Bind(params); err != nil {
			return err
		}
		token, err := authenticator.Login(params.Password)
		if err != nil {
			if errors.Is(err, model.ErrorInvalidCredentials) {
				return echo.NewHTTPError(http.StatusUnauthorized, model.MessageInvalidPassword)
			}
			return err
		}
		return c.JSON(http.StatusOK, &loginResponse{token})
	}
}

func GetRate(rates RateService) echo.HandlerFunc {
	return func(c echo.Context) error {
		pair, valid := model.ParseRatePair(c.Param("pair"))
		if !valid {
			return echo.NewHTTPError(http.StatusBadRequest, model.MessageInvalidPair)
		}
		rate, err := rates.Get(c.Request().Context(), pair)
		if err != nil {
			if errors.Is(err, model.ErrorRateNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, model.MessageRateNotFound)
			}
			return err
		}
		return c.JSON(http.StatusOK, rate)
	}
}

func UpdateRate(rates RateService) echo.HandlerFunc {
	return func(c echo.Context) error {
		pair, valid := model.ParseRatePair(c.Param("pair"))
		if !valid {
			return echo.NewHTTPError(http.StatusBadRequest, model.MessageInvalidPair)
		}
		params := &model.UpdateRateParams{}
		if err := c.Bind(params); err != nil {
			return err
		}
		rate, err := rates.Update(c.Request().Context(), pair, params, auth.Subject(c))
		if err != nil {
			if errors.Is(err, model.ErrorInvalidRate) {
				return echo.NewHTTPError(http.StatusBadRequest, model.MessageInvalidRate)
			}
			return err
		}
		return c.JSON(http.StatusOK, rate)
	}
}

func ListNotifications(notifications NotificationLister) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := defaultNotificationLimit
		if raw := c.QueryParam("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
			}
			limit = min(n, maxNotificationLimit)
		}
		list, err := notifications.ListNotifications(c.Request().Context(), limit)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, list)
	}
}

func Health() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
}
