package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// SubjectVerifier resolves a bearer token to the account it grants access to.
type SubjectVerifier interface {
	Subject(token string) (string, error)
}

// AccountOwner validates the bearer token and requires its subject to match
// the :accountId route parameter.
func AccountOwner(verifier SubjectVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])
		sub, err := verifier.Subject(tokenStr)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		if sub != c.Params("accountId") {
			return fiber.NewError(http.StatusForbidden, "token does not grant access to this account")
		}
		c.Locals(callerLocal, "account:"+sub)
		return c.Next()
	}
}
