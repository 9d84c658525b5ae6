package middleware

import (
	"crypto/sha256"
	"net/http"
	"sync"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

const (
	serviceKeyHeader = "X-Service-Key"
	callerLocal      = "caller"
)

// ServiceKey admits trusted backend callers whose X-Service-Key matches the
// configured bcrypt hash. Verified keys are remembered by digest so bcrypt
// runs once per distinct key rather than once per request.
func ServiceKey(hash string) fiber.Handler {
	var verified sync.Map // [32]byte -> struct{}
	hashed := []byte(hash)

	return func(c *fiber.Ctx) error {
		if len(hashed) == 0 {
			return fiber.NewError(http.StatusServiceUnavailable, "service key not configured")
		}
		key := c.Get(serviceKeyHeader)
		if key == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing service key")
		}

		digest := sha256.Sum256([]byte(key))
		if _, ok := verified.Load(digest); !ok {
			if err := bcrypt.CompareHashAndPassword(hashed, []byte(key)); err != nil {
				return fiber.NewError(http.StatusUnauthorized, "invalid service key")
			}
			verified.Store(digest, struct{}{})
		}

		c.Locals(callerLocal, "service")
		return c.Next()
	}
}
