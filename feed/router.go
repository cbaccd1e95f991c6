package feed

import (
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"

	"github.com/benjaminclauss/truckping/tracker"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// NewRouter serves the hub's latest result.
func NewRouter(h *Hub, info BuildInfo) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/api/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/api/vendors", func(c *gin.Context) {
		rows, _ := h.Rows()
		c.JSON(http.StatusOK, vendors(rows))
	})
	r.GET("/api/vendors/ws", func(c *gin.Context) {
		h.ServeWS(c.Writer, c.Request)
	})
	r.GET("/gtfs-rt/vehicle-positions", func(c *gin.Context) {
		rows, at := h.Rows()
		vehiclePositions(c, rows, at)
	})
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, info)
	})
	r.GET("/", func(c *gin.Context) {
		rows, _ := h.Rows()
		c.Data(http.StatusOK, "text/html; charset=utf-8", landingPage(info, len(rows), h.Clients()))
	})
	return r
}

func landingPage(info BuildInfo, trucks, clients int) []byte {
	return fmt.Appendf(nil, `<!DOCTYPE html>
<html>
<head><title>truckping</title></head>
<body>
	<h1>truckping</h1>
	<p><strong>Trucks:</strong> %d (<a href="/api/vendors">json</a>, <a href="/gtfs-rt/vehicle-positions?format=text">gtfs-rt</a>)</p>
	<p><strong>Websocket clients:</strong> %d</p>
	<p><strong>Version:</strong> %s</p>
	<p><strong>Commit:</strong> %s</p>
	<p><strong>Build Time:</strong> %s</p>
</body>
</html>
`, trucks, clients, html.EscapeString(info.Version), html.EscapeString(info.Commit), html.EscapeString(info.BuildTime))
}

// vehiclePositions writes the binary feed, or its text form for ?format=text.
func vehiclePositions(c *gin.Context, rows []tracker.Row, at time.Time) {
	msg := VehiclePositions(rows, at)
	if c.Query("format") == "text" {
		c.String(http.StatusOK, "%s", prototext.Format(msg))
		return
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		slog.Error("error encoding gtfs-rt feed", "err", err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "application/x-protobuf", data)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request", "method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "duration", time.Since(start), "remote_addr", c.ClientIP())
	}
}
