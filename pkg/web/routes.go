package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PancyStudios/PancyModLogs/pkg/database"
	"github.com/PancyStudios/PancyModLogs/pkg/discord"
	"github.com/PancyStudios/PancyModLogs/pkg/ingest"
	"github.com/PancyStudios/PancyModLogs/pkg/logstore"
	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

// Indexer is the part of ingest.Indexer the API drives
type Indexer interface {
	Query(userID uint64) ([]models.LogRecord, error)
	Save(ctx context.Context, rec models.LogRecord) error
	Delete(ctx context.Context, messageID uint64) error
	Checkpoint(channelID uint64) (uint64, bool, error)
	ScanChannel(ctx context.Context, channelID uint64) (ingest.ScanResult, error)
	QueueDepth() int
}

// StatsProvider reports store table sizes
type StatsProvider interface {
	Stats() (logstore.Stats, error)
}

// Deps holds what the routes are served from. Gatherer and Hub are
// optional.
type Deps struct {
	Indexer  Indexer
	Store    StatsProvider
	Gatherer prometheus.Gatherer
	Hub      *Hub
}

type handlers struct {
	Deps
}

// SetupAPIRoutes sets up the API routes
func SetupAPIRoutes(s *Server, d Deps) {
	h := &handlers{Deps: d}

	s.engine.GET("/api/health", healthHandler)
	if d.Gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	api := s.engine.Group("/api", s.authMiddleware())
	{
		api.GET("/status", h.status)
		api.GET("/logs/:userId", h.queryLogs)
		api.POST("/logs", h.saveLog)
		api.DELETE("/logs/:messageId", h.deleteLog)
		api.GET("/checkpoints/:channelId", h.checkpoint)
		api.POST("/scan/:channelId", h.scan)
		if d.Hub != nil {
			api.GET("/stream", d.Hub.Serve)
		}
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Bad Request",
		"message": err.Error(),
		"status":  http.StatusBadRequest,
	})
}

// writeError maps indexer errors onto status codes
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, logstore.ErrInvalidRecord):
		status = http.StatusBadRequest
	case errors.Is(err, ingest.ErrNotWatched):
		status = http.StatusNotFound
	case errors.Is(err, ingest.ErrClosed), errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"error":   http.StatusText(status),
		"message": err.Error(),
		"status":  status,
	})
}

func snowflakeParam(c *gin.Context, name string) (uint64, bool) {
	id, err := models.ParseSnowflake(c.Param(name))
	if err != nil {
		badRequest(c, err)
		return 0, false
	}
	return id, true
}

// healthHandler returns a simple health check response
func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"message": "PancyModLogs is running",
	})
}

// status returns the index, database and bot status
func (h *handlers) status(c *gin.Context) {
	stats, err := h.Store.Stats()
	if err != nil {
		writeError(c, err)
		return
	}

	dbStatus, dbOnline := "⚪ | Desactivada", false
	if db := database.Get(); db != nil {
		dbStatus, dbOnline = db.GetStatus()
	}

	botOnline, guilds := false, 0
	if client := discord.Get(); client != nil {
		botOnline = client.IsReady()
		guilds = client.GuildCount()
	}

	streamClients := 0
	if h.Hub != nil {
		streamClients = h.Hub.ClientCount()
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"index": gin.H{
			"stats":         stats,
			"queueDepth":    h.Indexer.QueueDepth(),
			"streamClients": streamClients,
		},
		"database": gin.H{
			"status":   dbStatus,
			"isOnline": dbOnline,
		},
		"bot": gin.H{
			"isOnline": botOnline,
			"guilds":   guilds,
		},
	})
}

// queryLogs returns every record mentioning a user, newest first
func (h *handlers) queryLogs(c *gin.Context) {
	userID, ok := snowflakeParam(c, "userId")
	if !ok {
		return
	}

	recs, err := h.Indexer.Query(userID)
	if err != nil {
		writeError(c, err)
		return
	}
	docs := make([]models.ModLogDocument, len(recs))
	for i, rec := range recs {
		docs[i] = rec.ToDocument()
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":  strconv.FormatUint(userID, 10),
		"count":   len(docs),
		"records": docs,
	})
}

// saveLog upserts a record sent by an operator
func (h *handlers) saveLog(c *gin.Context) {
	var doc models.ModLogDocument
	if err := c.ShouldBindJSON(&doc); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := doc.ToRecord()
	if err != nil {
		badRequest(c, err)
		return
	}

	if err := h.Indexer.Save(c.Request.Context(), rec); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec.ToDocument())
}

func (h *handlers) deleteLog(c *gin.Context) {
	messageID, ok := snowflakeParam(c, "messageId")
	if !ok {
		return
	}
	if err := h.Indexer.Delete(c.Request.Context(), messageID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) checkpoint(c *gin.Context) {
	channelID, ok := snowflakeParam(c, "channelId")
	if !ok {
		return
	}

	cp, found, err := h.Indexer.Checkpoint(channelID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not Found",
			"message": "El canal no tiene checkpoint.",
			"status":  http.StatusNotFound,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"channelId":  strconv.FormatUint(channelID, 10),
		"checkpoint": strconv.FormatUint(cp, 10),
	})
}

// scan brings a watched channel up to date and returns the result
func (h *handlers) scan(c *gin.Context) {
	channelID, ok := snowflakeParam(c, "channelId")
	if !ok {
		return
	}

	res, err := h.Indexer.ScanChannel(c.Request.Context(), channelID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
