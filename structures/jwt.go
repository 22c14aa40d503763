package structures

import (
	"github.com/dabubble/common/errors"
	"github.com/golang-jwt/jwt"
)

// JwtSession is the signed blob remembering the signed in user across restarts.
type JwtSession struct {
	UID    string `json:"uid"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar"`
	jwt.StandardClaims
}

func (s JwtSession) User() User {
	return User{UID: s.UID, Name: s.Name, Email: s.Email, Avatar: s.Avatar}
}

func EncodeJwt(claims jwt.Claims, key string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(key))
}

func DecodeJwt(claims jwt.Claims, key string, token string) error {
	tkn, err := jwt.ParseWithClaims(token, claims, func(tkn *jwt.Token) (interface{}, error) {
		if _, ok := tkn.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.ErrJwtTokenInvalid
		}

		return []byte(key), nil
	})
	if err != nil {
		return err
	}

	if !tkn.Valid {
		return errors.ErrJwtTokenInvalid
	}

	return nil
}
