package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/pidmonitor_backend/config"
	"bitbucket.org/mmdatafocus/pidmonitor_backend/dispatch"
	"bitbucket.org/mmdatafocus/pidmonitor_backend/models"
	"bitbucket.org/mmdatafocus/pidmonitor_backend/uptimerobot"
	"bitbucket.org/mmdatafocus/pidmonitor_backend/utils"
	"github.com/gin-gonic/gin"
)

type pidListRequest struct {
	PIDs []string `json:"pids" binding:"required,min=1"`
}

// resolvePIDsSyncHandler resolves every submitted PID inside the request,
// persisting each attempt, and returns the compact PID -> status map.
func resolvePIDsSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pidListRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}

		ctx, span := tracer.Start(c.Request.Context(), "resolve-pids-sync")
		defer span.End()

		data := make(map[string]string, len(req.PIDs))
		for _, pid := range req.PIDs {
			data[pid] = dispatch.ResolveAndRecordStatus(ctx, pid)
		}
		c.JSON(http.StatusOK, data)
	}
}

func resolvePIDsParallelHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pidListRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}

		result, err := dispatch.DispatchParallel(c.Request.Context(), req.PIDs)
		if err != nil {
			config.LogError(config.GetLogger(), "handlers.go", "resolvePIDsParallelHandler", "DispatchParallel", req.PIDs, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func resolvePIDsAsyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pidListRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}

		taskID, err := dispatch.DispatchBatch(c.Request.Context(), req.PIDs)
		if err != nil {
			config.LogError(config.GetLogger(), "handlers.go", "resolvePIDsAsyncHandler", "DispatchBatch", req.PIDs, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"task_id": taskID})
	}
}

func getResolutionRecordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "record id must be an integer"})
			return
		}

		record, err := models.GetResolutionRecord(c.Request.Context(), id)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func getTaskStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		task, err := models.GetTaskRecord(c.Request.Context(), c.Param("task_id"))
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, task)
	}
}

// createPIDMREventHandler stores the event and schedules the async
// resolution of its PID on the pidmr partition.
func createPIDMREventHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewPIDMREvent
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		if !input.PIDMode.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "pid_mode must be one of landingpage, metadata, resource"})
			return
		}

		event, err := models.CreatePIDMREvent(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}

		taskID, err := dispatch.DispatchEventResolution(c.Request.Context(), event)
		if err != nil {
			config.LogError(config.GetLogger(), "handlers.go", "createPIDMREventHandler", "DispatchEventResolution", event.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"event": event, "task_id": taskID})
	}
}

func getPIDMREventHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "event id must be an integer"})
			return
		}

		event, err := models.GetPIDMREvent(c.Request.Context(), id)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, event)
	}
}

type uptimeMonitorsRequest struct {
	Actor       string `json:"actor" binding:"required"`
	Identifier  string `json:"identifier" binding:"required"`
	Institution string `json:"institution" binding:"required"`
}

// relatedMonitorGroups maps an actor/identifier/institution triple to the
// monitor group ids covering it.
// TODO: query the Knowledge Base API for the related monitors.
func relatedMonitorGroups(req uptimeMonitorsRequest) []string {
	return []string{"pid_graph:E2045F7A", "pid_graph:456AFBF9", "pid_graph:7E94CE2D"}
}

func uptimeByCategoryHandler(client *uptimerobot.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req uptimeMonitorsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}

		report, err := client.MeanUptime(c.Request.Context(), relatedMonitorGroups(req))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func uptimeByGroupIDsHandler(client *uptimerobot.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		groupIDs := strings.Split(c.Param("group_ids"), "-")
		report, err := client.MeanUptime(c.Request.Context(), groupIDs)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func refreshMonitorMappingHandler(client *uptimerobot.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := client.RefreshMapping(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"message": "Successfully re-created " + strconv.Itoa(count) + " UptimeRobot monitor identifier mappings.",
		})
	}
}

// tokenHandler exchanges a form-encoded credential pair for a bearer token.
func tokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.PostForm("username")
		password := c.PostForm("password")
		if username == "" || password == "" {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "username and password are required"})
			return
		}

		user, err := models.Authenticate(c.Request.Context(), username, password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Incorrect username or password"})
			return
		}
		if user.IsActive == nil || !*user.IsActive {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Inactive user"})
			return
		}

		token, err := utils.JwtGenerate(user.Username)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer"})
	}
}

func registerUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewUser
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}

		user, err := models.CreateUser(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, user)
	}
}

func whoamiHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		username, ok := utils.GetUsernameFromContext(c.Request.Context())
		if !ok || username == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
			return
		}

		user, err := models.GetUserByUsername(c.Request.Context(), username)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Could not validate credentials"})
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"detail": "route not found"})
}
