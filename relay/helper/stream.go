package helper

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

func SetEventStreamHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
}

// WriteEvent emits one complete SSE frame and flushes it.
func WriteEvent(c *gin.Context, event string, data []byte) error {
	if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	if flusher, ok := c.Writer.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// WriteRawLine forwards one upstream line unmodified, preserving frame
// boundaries (an empty line terminates a frame and triggers a flush).
func WriteRawLine(c *gin.Context, line []byte) error {
	if _, err := c.Writer.Write(append(line, '\n')); err != nil {
		return err
	}
	if len(line) == 0 {
		if flusher, ok := c.Writer.(http.Flusher); ok {
			flusher.Flush()
		}
	}
	return nil
}
