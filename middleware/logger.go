package middleware

import (
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
)

// RequestLogger logs every request with its status and latency to output.
func RequestLogger(output io.Writer) fiber.Handler {
	return logger.New(logger.Config{
		Format:     "[${time}] ${method} ${path} -> ${status} (${latency}) from ${ip} ${error}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "UTC",
		Output:     output,
	})
}
