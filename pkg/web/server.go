// Package web provides the admin HTTP API of the indexer: record lookup and
// maintenance, channel scans, a live websocket feed and Prometheus metrics.
// It uses Gin for routing and middleware.
package web

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"github.com/PancyStudios/PancyModLogs/pkg/logger"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Window      time.Duration
	MaxRequests int
}

// Options configures NewServer
type Options struct {
	// WebhookURL receives a report for every rejected request.
	WebhookURL string
	// APIToken protects /api. Empty disables authentication.
	APIToken string
	// AllowedHosts, when set, rejects requests for any other Host header.
	AllowedHosts *regexp.Regexp
	RateLimit    RateLimitConfig
}

// Server represents the web server
type Server struct {
	engine *gin.Engine
	opts   Options
	client *http.Client

	mu   sync.Mutex
	http *http.Server
}

var server *Server

// Init initializes the global web server
func Init(opts Options) *Server {
	server = NewServer(opts)
	return server
}

// Get returns the global web server
func Get() *Server {
	return server
}

// NewServer creates a new web server
func NewServer(opts Options) *Server {
	if opts.RateLimit.Window <= 0 {
		opts.RateLimit.Window = time.Minute
	}
	if opts.RateLimit.MaxRequests <= 0 {
		opts.RateLimit.MaxRequests = 100
	}
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine: engine,
		opts:   opts,
		client: &http.Client{Timeout: 5 * time.Second},
	}

	s.engine.Use(s.logsMiddleware())
	s.engine.Use(s.rateLimitMiddleware())
	s.setupErrorHandlers()

	if opts.APIToken == "" {
		logger.Warn("API_TOKEN vacío: la API de administración no requiere autenticación.", "WebServer")
	}
	return s
}

// Engine returns the underlying Gin engine
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// logsMiddleware logs requests and rejects unknown hosts
func (s *Server) logsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.AllowedHosts != nil && !s.opts.AllowedHosts.MatchString(c.Request.Host) {
			logger.Warn(fmt.Sprintf("[LOG] Solicitud Sospechosa: %s %s | %s", c.Request.Method, c.Request.URL.Path, c.ClientIP()), "WebServer")
			go s.sendLogToWebhook(c.Request.Method, c.Request.URL.Path, c.ClientIP(), "host no permitido")
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		start := time.Now()
		c.Next()
		logger.Debug(fmt.Sprintf("[LOG] %s %s -> %d (%v)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start)), "WebServer")
	}
}

// authMiddleware checks the bearer token. Browsers can't set headers on a
// websocket handshake, so the token is also accepted as ?token=.
func (s *Server) authMiddleware() gin.HandlerFunc {
	want := []byte(s.opts.APIToken)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.Next()
			return
		}

		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if got == "" {
			got = c.Query("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			go s.sendLogToWebhook(c.Request.Method, c.Request.URL.Path, c.ClientIP(), "token inválido")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Unauthorized",
				"message": "Token de API inválido o ausente.",
				"status":  http.StatusUnauthorized,
			})
			return
		}
		c.Next()
	}
}

type webhookEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

// sendLogToWebhook reports a rejected request to the Discord webhook
func (s *Server) sendLogToWebhook(method, path, ip, reason string) {
	if s.opts.WebhookURL == "" {
		return
	}

	payload := struct {
		Embeds []webhookEmbed `json:"embeds"`
	}{Embeds: []webhookEmbed{{
		Title:       fmt.Sprintf("💫 | Solicitud Rechazada: %s %s", method, path),
		Description: fmt.Sprintf("> **Ruta:** `%s`\n> **IP:** `%s`\n> **Motivo:** %s", path, ip, reason),
		Color:       0xFFA500,
		Timestamp:   time.Now().Format(time.RFC3339),
	}}}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return
	}
	req, err := http.NewRequest(http.MethodPost, s.opts.WebhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}

// rateLimitMiddleware implements a fixed-window limiter per client IP
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	type clientInfo struct {
		count   int
		resetAt time.Time
	}
	var mu sync.Mutex
	clients := make(map[string]*clientInfo)
	cfg := s.opts.RateLimit

	return func(c *gin.Context) {
		ip := c.ClientIP()
		now := time.Now()

		mu.Lock()
		info, exists := clients[ip]
		if !exists || now.After(info.resetAt) {
			if len(clients) > 10000 {
				for k, v := range clients {
					if now.After(v.resetAt) {
						delete(clients, k)
					}
				}
			}
			info = &clientInfo{resetAt: now.Add(cfg.Window)}
			clients[ip] = info
		}
		info.count++
		count := info.count
		mu.Unlock()

		if count > cfg.MaxRequests {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Demasiadas solicitudes, por favor intente de nuevo más tarde.",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) setupErrorHandlers() {
	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not Found",
			"message": "La ruta solicitada no existe.",
			"status":  http.StatusNotFound,
		})
	})

	s.engine.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error":   "Method Not Allowed",
			"message": "El método HTTP no está permitido para esta ruta.",
			"status":  http.StatusMethodNotAllowed,
		})
	})
}

// Start serves until Shutdown is called
func (s *Server) Start(port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	logger.Info(fmt.Sprintf("🚀 Servidor escuchando en http://localhost:%s", port), "WebServer")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartAsync starts the web server in a goroutine
func (s *Server) StartAsync(port string) {
	go func() {
		if err := s.Start(port); err != nil {
			logger.Error(fmt.Sprintf("Error starting web server: %v", err), "WebServer")
		}
	}()
}

// Shutdown stops accepting requests and waits for active ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
