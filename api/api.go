// Package api exposes the engine over HTTP: probe ingestion, cache
// inspection, prometheus metrics, and live query results over websockets.
package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/baltar/lamina/pkg/events"
	"github.com/baltar/lamina/pkg/metric"
	"github.com/baltar/lamina/pkg/probes"
	"github.com/baltar/lamina/pkg/query"
	"github.com/baltar/lamina/pkg/router"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// CreateRestAPI registers the engine's routes on a gin router.
func CreateRestAPI(g *gin.Engine, rt router.Router, registry *probes.Registry, log *zap.Logger) {

	g.GET("/metrics", gin.WrapH(promhttp.Handler()))

	g.GET("/probes", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"probes": registry.Names()})
	})

	g.POST("/probes/:probe", func(c *gin.Context) {
		registry.GetOrAdd(c.Param("probe"))
		c.Status(http.StatusCreated)
	})

	g.POST("/probes/:probe/events", func(c *gin.Context) {
		name := c.Param("probe")

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			log.Error("could not read body", zap.String("path", "/probes/:probe/events"), zap.Error(err))
			c.String(http.StatusBadRequest, "no payload provided")
			return
		}

		e, err := events.NewEventFromJSON(body)
		if err != nil {
			log.Error("cannot unmarshal event", zap.String("probe", name), zap.Error(err))
			c.String(http.StatusBadRequest, "event not valid")
			return
		}

		if err := registry.Publish(name, e); err != nil {
			c.String(http.StatusNotFound, "unknown probe")
			return
		}
		metric.ProbeEvents.Inc()
		c.Status(http.StatusCreated)
	})

	g.GET("/cache", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"entries": rt.InnerCache().Entries()})
	})

	// GET /subscribe?q=<query>&period=<ms> streams results over a websocket
	g.GET("/subscribe", func(c *gin.Context) {
		q := c.Query("q")

		var opts query.Options
		if p, err := parsePeriodQuery(c.Query("period")); err == nil {
			opts.Period = p
		}

		sub, err := rt.Subscribe(q, opts)
		if err != nil {
			log.Error("subscription rejected", zap.String("query", q), zap.Error(err))
			c.String(http.StatusBadRequest, "invalid query: %v", err)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			sub.Close()
			log.Error("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()
		defer sub.Close()

		// unblock the result pump when the client goes away
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case e, ok := <-sub.Events():
				if !ok {
					return
				}
				msg := gin.H{
					"timestamp": e.GetTimestamp(),
					"value":     e.GetContent(),
				}
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			case <-closed:
				return
			}
		}
	})
}
