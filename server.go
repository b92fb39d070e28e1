package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/pidmonitor_backend/config"
	"bitbucket.org/mmdatafocus/pidmonitor_backend/dispatch"
	"bitbucket.org/mmdatafocus/pidmonitor_backend/middlewares"
	"bitbucket.org/mmdatafocus/pidmonitor_backend/models"
	"bitbucket.org/mmdatafocus/pidmonitor_backend/uptimerobot"
	"bitbucket.org/mmdatafocus/pidmonitor_backend/utils"
	"github.com/bsm/redislock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("pidmonitor-backend")

// PubSubMessage is the push delivery envelope.
type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// queuePushHandler receives push deliveries for one queue partition and runs
// the unit of work. It always acks: failure recovery goes through the
// dispatcher's own long-horizon retry schedule, never through Pub/Sub
// redelivery.
func queuePushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "server.go", "queuePushHandler", "io.ReadAll", nil, err)
			c.Status(http.StatusNoContent)
			return
		}

		var envelope PubSubMessage
		// byte slice unmarshalling handles base64 decoding.
		if err := json.Unmarshal(body, &envelope); err != nil {
			config.LogError(logger, "server.go", "queuePushHandler", "Unmarshal envelope", body, err)
			c.Status(http.StatusNoContent)
			return
		}

		var msg dispatch.TaskMessage
		if err := json.Unmarshal(envelope.Message.Data, &msg); err != nil {
			config.LogError(logger, "server.go", "queuePushHandler", "Unmarshal task message", envelope.Message.Data, err)
			c.Status(http.StatusNoContent)
			return
		}
		if msg.TaskID == "" || msg.Kind == "" {
			config.LogError(logger, "server.go", "queuePushHandler", "Invalid task message (missing required fields)", msg, fmt.Errorf("task_id/kind required"))
			c.Status(http.StatusNoContent)
			return
		}

		// Best-effort lock per task to avoid duplicate concurrent delivery.
		// Reliability does not depend on it: re-running a resolution only
		// appends another attempt record.
		var lock *redislock.Lock
		if redisLock := config.GetRedisLock(); redisLock != nil {
			lock, err = redisLock.Obtain(c.Request.Context(), "lock:task:"+msg.TaskID, 60*time.Second, nil)
			if err == redislock.ErrNotObtained {
				logger.WithFields(logrus.Fields{
					"task_id":    msg.TaskID,
					"message_id": envelope.Message.ID,
				}).Warn("task already being processed; acking duplicate delivery")
				c.Status(http.StatusNoContent)
				return
			}
			if err != nil {
				logger.WithFields(logrus.Fields{
					"task_id":    msg.TaskID,
					"message_id": envelope.Message.ID,
				}).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
				lock = nil
			}
		}
		defer func() {
			if lock == nil {
				return
			}
			if releaseErr := lock.Release(c.Request.Context()); releaseErr != nil {
				logger.WithFields(logrus.Fields{
					"task_id":    msg.TaskID,
					"message_id": envelope.Message.ID,
				}).Warn("failed to release redis lock: " + releaseErr.Error())
			}
		}()

		correlationID := envelope.Message.ID
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationID)
		dispatch.ProcessTask(ctx, msg)

		c.Status(http.StatusNoContent)
	}
}

func main() {
	settings := config.GetSettings()
	port := settings.APIPort
	if v := os.Getenv("PORT"); v != "" {
		// Cloud Run standard env var wins.
		port = v
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, app endpoints return 503.
	r := gin.New()

	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})

	// Per-request processing time, exposed as a response header.
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		c.Header("X-Process-Time", fmt.Sprintf("%.6f", time.Since(start).Seconds()))
	})

	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate app endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production, require an explicit allowlist via CORS_ALLOWED_ORIGINS.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length", "X-Process-Time")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	uptimeClient := uptimerobot.NewClient(settings)

	// Open endpoints.
	r.POST("/token", tokenHandler())
	r.POST("/users/register", registerUserHandler())

	// Pub/Sub push deliveries, one route per queue partition.
	r.POST("/queue/"+settings.TopicPIDResolution, queuePushHandler())
	r.POST("/queue/"+settings.TopicPIDMR, queuePushHandler())

	// Authenticated API surface.
	authed := r.Group("/", middlewares.AuthMiddleware())
	authed.POST("/pid/", resolvePIDsSyncHandler())
	authed.POST("/pid/parallel", resolvePIDsParallelHandler())
	authed.POST("/pid/async", resolvePIDsAsyncHandler())
	authed.GET("/pid/:id", getResolutionRecordHandler())
	authed.GET("/task/:task_id", getTaskStatusHandler())
	authed.POST("/pidmr/event", createPIDMREventHandler())
	authed.GET("/pidmr/event/:id", getPIDMREventHandler())
	authed.POST("/uptimemonitor/uptime", uptimeByCategoryHandler(uptimeClient))
	authed.GET("/uptimemonitor/uptime/:group_ids", uptimeByGroupIDsHandler(uptimeClient))
	authed.PUT("/uptimemonitor/uptimerobot/update", refreshMonitorMappingHandler(uptimeClient))
	authed.GET("/users/whoami/", whoamiHandler())

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running migrations
	// as a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Make sure both queue partitions exist, each with a push subscription
	// delivering back to this service, before anything publishes.
	if client, err := config.GetPubSubClient(context.Background()); err != nil {
		logger.WithFields(logrus.Fields{"field": "pubsub"}).Warn("pubsub client not ready: " + err.Error())
	} else {
		pushBase := strings.TrimRight(strings.TrimSpace(os.Getenv("PUSH_ENDPOINT_BASE_URL")), "/")
		if pushBase == "" {
			logger.WithFields(logrus.Fields{"field": "pubsub"}).Warn("PUSH_ENDPOINT_BASE_URL not set; queue subscriptions not bootstrapped")
		}
		for _, topic := range []string{settings.TopicPIDResolution, settings.TopicPIDMR} {
			t, err := config.CreateTopicIfNotExists(client, topic)
			if err != nil {
				logger.WithFields(logrus.Fields{"field": "pubsub", "topic": topic}).Warn("topic bootstrap failed: " + err.Error())
				continue
			}
			if pushBase == "" {
				continue
			}
			if _, err := config.CreateSubscriptionIfNotExists(client, topic+"-push", t, pushBase+"/queue/"+topic); err != nil {
				logger.WithFields(logrus.Fields{"field": "pubsub", "topic": topic}).Warn("subscription bootstrap failed: " + err.Error())
			}
		}
	}

	// Start the long-horizon retry pump.
	pumpCtx, cancelPump := context.WithCancel(context.Background())
	defer cancelPump()
	go dispatch.RetryPump(pumpCtx)

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while draining.
	cancelPump()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger logs only requests that accumulated errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
