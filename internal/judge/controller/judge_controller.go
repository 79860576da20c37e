package controller

import (
	"context"
	"net/http"
	"strconv"
	"time"

	commonmw "codejudge/internal/common/http/middleware"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/service"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultWatchInterval = 500 * time.Millisecond

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// JudgeService is the part of the judge service the HTTP API exposes.
type JudgeService interface {
	Submit(ctx context.Context, in service.SubmitInput) (service.SubmitOutput, error)
	Poll(ctx context.Context, id string) (model.PollResponse, error)
	Progress(ctx context.Context) model.Progress
	Queue(ctx context.Context) model.QueueView
}

// SubmitRequest is the body of a submission.
type SubmitRequest struct {
	Language string `json:"language"`
	Code     string `json:"code" binding:"required"`
}

// JudgeController handles submission and status requests.
type JudgeController struct {
	svc           JudgeService
	watchInterval time.Duration
	upgrader      websocket.Upgrader
}

// NewJudgeController creates a new controller. A non-positive interval
// selects the default watch cadence.
func NewJudgeController(svc JudgeService, watchInterval time.Duration) *JudgeController {
	if watchInterval <= 0 {
		watchInterval = defaultWatchInterval
	}
	return &JudgeController{
		svc:           svc,
		watchInterval: watchInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the judge API on r.
func (h *JudgeController) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/api/v1/judge")
	g.POST("/problems/:id/submissions", h.Submit)
	g.GET("/submissions/:id", h.GetStatus)
	g.GET("/submissions/:id/watch", h.Watch)
	g.GET("/progress", h.Progress)
	g.GET("/queue", h.Queue)
}

// Submit screens and enqueues a submission.
func (h *JudgeController) Submit(c *gin.Context) {
	problemID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || problemID <= 0 {
		response.BadRequest(c, "Invalid problem id")
		return
	}
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErr.ValidationError("code", "required"))
		return
	}
	out, err := h.svc.Submit(c.Request.Context(), service.SubmitInput{
		ProblemID:  problemID,
		UserID:     commonmw.UserID(c),
		LanguageID: req.Language,
		SourceCode: req.Code,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, out)
}

// GetStatus returns the poll response for one submission.
func (h *JudgeController) GetStatus(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	status, err := h.svc.Poll(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// Progress reports the in-flight submission's test position.
func (h *JudgeController) Progress(c *gin.Context) {
	response.Success(c, h.svc.Progress(c.Request.Context()))
}

// Queue lists the in-flight and pending submissions.
func (h *JudgeController) Queue(c *gin.Context) {
	response.Success(c, h.svc.Queue(c.Request.Context()))
}

// Watch upgrades to a WebSocket and pushes the poll response every interval
// until it is completed.
func (h *JudgeController) Watch(c *gin.Context) {
	submissionID := c.Param("id")
	ctx := c.Request.Context()
	if _, err := h.svc.Poll(ctx, submissionID); err != nil {
		response.Error(c, err)
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(ctx, "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// The reader only services control frames; it ends the watch when the
	// client goes away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	push := func() bool {
		resp, err := h.svc.Poll(ctx, submissionID)
		if err != nil {
			resp = model.PollResponse{Error: err.Error(), Completed: true}
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(resp); err != nil {
			logger.Debug(ctx, "websocket write failed", zap.Error(err))
			return false
		}
		if resp.Completed {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "completed"))
			return false
		}
		return true
	}
	if !push() {
		return
	}

	poll := time.NewTicker(h.watchInterval)
	defer poll.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-poll.C:
			if !push() {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-ctx.Done():
			return
		}
	}
}
