package rayid

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// HeaderName is the header carrying the request id in both directions.
const HeaderName = "X-Ray-ID"

// LocalsKey is the Fiber locals key the id is stored under.
const LocalsKey = "ray_id"

// New returns a middleware that tags every request with a ray id. An id
// already present on the request is kept, so traces can span services that
// forward the header.
func New() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rid := c.Get(HeaderName)
		if rid == "" {
			rid = uuid.NewString()
		}

		c.Locals(LocalsKey, rid)
		c.Set(HeaderName, rid)

		return c.Next()
	}
}
