package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/reviewdeck/pkg/shared"
)

// JWTClaims carries the identity fields issued by the review server.
type JWTClaims struct {
	UserID  string   `json:"user_id"`
	TeamIDs []string `json:"team_ids,omitempty"`
	jwt.RegisteredClaims
}

const identityContextKey = "reviewdeck.identity"

// RequireAuth validates the Bearer token on every request and stores the
// caller's identity in the request context. An empty secret disables
// authentication entirely, for local single-user setups.
func RequireAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret == "" {
				return next(c)
			}

			// Extract token from Authorization header
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}

			// Check Bearer token format
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			claims, err := validateToken(tokenParts[1], secret)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}

			c.Set(identityContextKey, shared.Identity{
				Token:   tokenParts[1],
				UserID:  claims.UserID,
				TeamIDs: claims.TeamIDs,
			})

			return next(c)
		}
	}
}

func validateToken(tokenString, secret string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		if err == nil {
			err = fmt.Errorf("invalid token")
		}
		return nil, err
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

// GetIdentity returns the authenticated caller, if any.
func GetIdentity(c echo.Context) (shared.Identity, bool) {
	identity, ok := c.Get(identityContextKey).(shared.Identity)
	return identity, ok
}
