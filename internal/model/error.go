package model

import "errors"

var ErrorUserNotFound = errors.New("user not found")
var ErrorNoActiveCode = errors.New("no active verification code")
var ErrorCodeExpired = errors.New("verification code expired")
var ErrorCodeIncorrect = errors.New("incorrect verification code")
var ErrorTooManyAttempts = errors.New("too many verification attempts")
var ErrorSaveInProgress = errors.New("verification code save already in progress")
var ErrorRequestInProgress = errors.New("request already in progress")
var ErrorEmailSentRecently = errors.New("verification email sent recently")
var ErrorRateNotFound = errors.New("rate not found")
var ErrorInvalidRate = errors.New("invalid rate")
var ErrorInvalidCredentials = errors.New("invalid credentials")
var ErrorInvalidToken = errors.New("invalid token")
var ErrorSendFailed = errors.New("sending email failed")

// Messages shown to site visitors.
const (
	MessageCodeSent          = "Código de verificación enviado. Revisa tu correo electrónico."
	MessageVerified          = "Correo verificado correctamente."
	MessageAlreadyVerified   = "Este correo ya está verificado."
	MessageNoActiveCode      = "No hay un código de verificación activo para este correo. Solicita uno nuevo."
	MessageCodeExpired       = "El código de verificación ha expirado. Solicita uno nuevo."
	MessageCodeIncorrect     = "Código de verificación incorrecto"
	MessageTooManyAttempts   = "Demasiados intentos fallidos. Inténtalo de nuevo mañana."
	MessageSaveInProgress    = "Estamos generando tu código. Inténtalo de nuevo en unos segundos."
	MessageInProgress        = "Ya estamos procesando tu solicitud. Por favor espera."
	MessageSentRecently      = "Ya te enviamos un código. Revisa tu bandeja de entrada."
	MessageSendFailed        = "No se pudo enviar el correo de verificación. Inténtalo de nuevo."
	MessageUserNotFound      = "No se encontró ningún usuario con este correo."
	MessageEmailRequired     = "El correo electrónico es obligatorio."
	MessageCodeRequired      = "El correo electrónico y el código son obligatorios."
	MessageRegistered        = "Usuario registrado correctamente."
	MessageStatusUpdated     = "Estado de verificación actualizado."
	MessageInvalidEmail      = "El correo electrónico no es válido."
	MessageRateNotFound      = "No hay una tasa registrada para este par."
	MessageInvalidRate       = "La tasa debe ser un número positivo."
	MessageInvalidPassword   = "Contraseña incorrecta."
	MessageUnexpectedFailure = "Ocurrió un error inesperado. Inténtalo de nuevo."
	MessageUnauthorized      = "No autorizado."
	MessageInvalidPair       = "Par de divisas no válido."
)

// MessageFor maps a flow error to the message shown to visitors.
func MessageFor(err error) string {
	switch {
	case errors.Is(err, ErrorNoActiveCode):
		return MessageNoActiveCode
	case errors.Is(err, ErrorCodeExpired):
		return MessageCodeExpired
	case errors.Is(err, ErrorCodeIncorrect):
		return MessageCodeIncorrect
	case errors.Is(err, ErrorTooManyAttempts):
		return MessageTooManyAttempts
	case errors.Is(err, ErrorSaveInProgress):
		return MessageSaveInProgress
	case errors.Is(err, ErrorRequestInProgress):
		return MessageInProgress
	case errors.Is(err, ErrorEmailSentRecently):
		return MessageSentRecently
	case errors.Is(err, ErrorUserNotFound):
		return MessageUserNotFound
	case errors.Is(err, ErrorRateNotFound):
		return MessageRateNotFound
	case errors.Is(err, ErrorInvalidRate):
		return MessageInvalidRate
	case errors.Is(err, ErrorInvalidCredentials):
		return MessageInvalidPassword
	case errors.Is(err, ErrorInvalidToken):
		return MessageUnauthorized
	case errors.Is(err, ErrorSendFailed):
		return MessageSendFailed
	default:
		return MessageUnexpectedFailure
	}
}
