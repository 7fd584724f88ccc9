package swarm

import (
	"github.com/gin-gonic/gin"

	"github.com/openswarm/swarm-go/pkg/swarmerr"
)

// Correlate is gin middleware that threads a correlation id through every
// request: an inbound X-Correlation-ID is reused, otherwise one is generated.
// The id lands in the request context and echoes back on the response.
func Correlate() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationHeader)
		if id == "" {
			id = NewCorrelationID()
		}
		c.Request = c.Request.WithContext(WithCorrelationID(c.Request.Context(), id))
		c.Header(CorrelationHeader, id)
		c.Next()
	}
}

// RenderError writes err as a StandardError JSON body with the taxonomy's
// HTTP status mapping, stamping the request's correlation id when the error
// carries none.
func RenderError(c *gin.Context, err error) {
	se := swarmerr.From(err)
	if se.CorrelationID == "" {
		if id := CorrelationIDFrom(c.Request.Context()); id != "" {
			se.WithCorrelation(id)
		}
	}
	c.JSON(swarmerr.HTTPStatus(se), se)
}
