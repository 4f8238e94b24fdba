package hub

import (
	"net/http"

	"github.com/agentfloor/agentfloor/internal/apierr"
	"github.com/agentfloor/agentfloor/internal/chat"
	"github.com/agentfloor/agentfloor/internal/dispatch"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// registerRoutes sets up all hub routes on the Gin router.
func registerRoutes(router *gin.Engine, opts RouterOpts) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	agents := router.Group("/api/agents/:agentId")
	agents.GET("/poll", handlePoll(opts.Dispatch, opts.Logger))
	agents.POST("/respond", handleRespond(opts.Dispatch, opts.Logger))

	orgs := router.Group("/api/organizations/:orgId")
	orgs.POST("/chat", handleChat(opts.Chat, opts.Logger))
	orgs.POST("/messages", handleSubmit(opts.Chat, opts.Logger))
}

// writeError sends {"error": ...} with the status mapped from err. Internal
// errors are logged and reported generically.
func writeError(c *gin.Context, log zerolog.Logger, err error) {
	status := apierr.StatusOf(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": apierr.PublicMessage(err)})
}

var errInvalidBody = &apierr.ValidationError{Msg: "Invalid JSON body"}

func handlePoll(svc *dispatch.Service, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := svc.Poll(c.Request.Context(), c.Param("agentId"), bearerToken(c))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func handleRespond(svc *dispatch.Service, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dispatch.RespondRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, log, errInvalidBody)
			return
		}
		res, err := svc.Respond(c.Request.Context(), c.Param("agentId"), bearerToken(c), req)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// handleChat validates the request and records the user message before any
// byte of the event stream is sent, so those failures are plain JSON errors.
func handleChat(o *chat.Orchestrator, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		orgID := c.Param("orgId")
		if err := o.Authorize(ctx, orgID, bearerToken(c)); err != nil {
			writeError(c, log, err)
			return
		}
		var req chat.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, log, errInvalidBody)
			return
		}
		session, err := o.Prepare(ctx, orgID, req)
		if err != nil {
			writeError(c, log, err)
			return
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
		c.Writer.Flush()

		err = session.Stream(ctx, chat.FrameWriterFunc(func(f chat.Frame) error {
			if err := chat.Encode(c.Writer, f); err != nil {
				return err
			}
			c.Writer.Flush()
			return nil
		}))
		if err != nil {
			log.Debug().Err(err).Str("conversation", session.ConversationID()).Msg("chat stream ended early")
		}
	}
}

func handleSubmit(o *chat.Orchestrator, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		orgID := c.Param("orgId")
		if err := o.Authorize(ctx, orgID, bearerToken(c)); err != nil {
			writeError(c, log, err)
			return
		}
		var req chat.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, log, errInvalidBody)
			return
		}
		res, err := o.Submit(ctx, orgID, req)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusAccepted, res)
	}
}
