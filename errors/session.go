package errors

import "fmt"

var (
	ErrNoSession        = fmt.Errorf("no signed in user")
	ErrJwtTokenInvalid  = fmt.Errorf("jwt token invalid")
	ErrSessionMismatch  = fmt.Errorf("session user does not exist")
	ErrMissingSecretKey = fmt.Errorf("session secret must be set")
)
