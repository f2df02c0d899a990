package handlers

import (
	"github.com/labstack/echo/v4"
)

type Services struct {
	Verification  VerificationService
	Guard         Guard
	Rates         RateService
	Notifications NotificationLister
	Auth          Authenticator
	Options       Options
}

// Routes mounts the public and admin endpoints. admin guards everything
// under /admin except the login itself.
func Routes(server *echo.Echo, s *Services, admin echo.MiddlewareFunc) {
	server.GET("/healthz", Health())

	server.POST("/send-verification", SendVerification(s.Verification, s.Guard, s.Options))
	server.POST("/verify", Verify(s.Verification))
	server.GET("/verify", RequestVerification(s.Verification, s.Guard, s.Options))
	server.POST("/register-user", RegisterUser(s.Verification, s.Guard, s.Options))
	server.POST("/update-verification", UpdateVerification(s.Verification), admin)
	server.POST("/update-verification-status", UpdateVerification(s.Verification), admin)

	server.GET("/rates/:pair", GetRate(s.Rates))

	server.POST("/admin/login", Login(s.Auth))
	group := server.Group("/admin", admin)
	group.PUT("/rates/:pair", UpdateRate(s.Rates))
	group.GET("/notifications", ListNotifications(s.Notifications))
}
