package ssl

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/unrolled/secure"
)

// TlsHandler redirects plain HTTP to HTTPS when the server runs with TLS.
func TlsHandler(host string, port int) gin.HandlerFunc {
	return func(c *gin.Context) {
		secureMiddleware := secure.New(secure.Options{
			SSLRedirect: true,
			SSLHost:     host + ":" + strconv.Itoa(port),
		})
		// Process writes the redirect itself; on error just stop the chain
		// without touching the already-written response.
		if err := secureMiddleware.Process(c.Writer, c.Request); err != nil {
			return
		}

		c.Next()
	}
}
