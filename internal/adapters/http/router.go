package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/dkeye/VoiceMesh/internal/app/health"
	"github.com/dkeye/VoiceMesh/internal/app/orch"
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
)

// Service is the engine surface exposed over HTTP.
type Service interface {
	Meeting(ctx context.Context) (domain.MeetingSession, error)
	Roster(ctx context.Context) ([]domain.Participant, error)
	Sessions(ctx context.Context) ([]domain.SessionInfo, error)
	Streams(ctx context.Context) ([]domain.StreamInfo, error)
	Health(ctx context.Context) ([]health.PeerHealth, error)
	Media(ctx context.Context) (domain.MediaState, error)
	SetMedia(ctx context.Context, audio, video bool) (domain.MediaState, error)
	Approve(ctx context.Context, target domain.ParticipantID, approved bool) error
	Leave(ctx context.Context) error
}

type MediaRequest struct {
	Audio *bool `json:"audio"`
	Video *bool `json:"video"`
}

type MediaResponse struct {
	State   domain.MediaState `json:"state"`
	Warning string            `json:"warning,omitempty"`
}

type ApproveRequest struct {
	TargetID domain.ParticipantID `json:"targetId"`
	Approved *bool                `json:"approved"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func SetupRouter(mode string, svc Service, log zerolog.Logger) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	h := handlers{svc: svc, log: log.With().Str("module", "adapters.http").Logger()}

	api := r.Group("/api")
	api.GET("/meeting", h.meeting)
	api.GET("/roster", h.roster)
	api.GET("/sessions", h.sessions)
	api.GET("/streams", h.streams)
	api.GET("/health", h.health)
	api.GET("/media", h.media)
	api.POST("/media", h.setMedia)
	api.POST("/approve", h.approve)
	api.POST("/leave", h.leave)

	h.log.Info().Str("mode", mode).Msg("router setup")
	return r
}

type handlers struct {
	svc Service
	log zerolog.Logger
}

// respond writes out on success and maps engine errors otherwise.
func respond[T any](c *gin.Context, out T, err error) {
	if err != nil {
		c.JSON(statusOf(err), ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, orch.ErrNotHost):
		return http.StatusForbidden
	case errors.Is(err, orch.ErrNotJoined):
		return http.StatusConflict
	case errors.Is(err, orch.ErrClosed), errors.Is(err, orch.ErrEvicted):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h handlers) meeting(c *gin.Context) {
	out, err := h.svc.Meeting(c.Request.Context())
	respond(c, out, err)
}

func (h handlers) roster(c *gin.Context) {
	out, err := h.svc.Roster(c.Request.Context())
	respond(c, out, err)
}

func (h handlers) sessions(c *gin.Context) {
	out, err := h.svc.Sessions(c.Request.Context())
	respond(c, out, err)
}

func (h handlers) streams(c *gin.Context) {
	out, err := h.svc.Streams(c.Request.Context())
	respond(c, out, err)
}

func (h handlers) health(c *gin.Context) {
	out, err := h.svc.Health(c.Request.Context())
	respond(c, out, err)
}

func (h handlers) media(c *gin.Context) {
	out, err := h.svc.Media(c.Request.Context())
	respond(c, out, err)
}

// setMedia keeps the current value of an omitted flag. An unavailable device
// is not a failure: the applied state is returned with a warning.
func (h handlers) setMedia(c *gin.Context) {
	var req MediaRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.Audio == nil && req.Video == nil) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing or invalid media flags"})
		return
	}
	ctx := c.Request.Context()

	audio, video := req.Audio, req.Video
	if audio == nil || video == nil {
		cur, err := h.svc.Media(ctx)
		if err != nil {
			respond[any](c, nil, err)
			return
		}
		if audio == nil {
			audio = &cur.AudioEnabled
		}
		if video == nil {
			video = &cur.VideoEnabled
		}
	}

	state, err := h.svc.SetMedia(ctx, *audio, *video)
	if errors.Is(err, core.ErrCaptureUnavailable) {
		h.log.Warn().Err(err).Msg("media partially applied")
		c.JSON(http.StatusOK, MediaResponse{State: state, Warning: err.Error()})
		return
	}
	respond(c, MediaResponse{State: state}, err)
}

func (h handlers) approve(c *gin.Context) {
	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TargetID == "" || req.Approved == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing or invalid approval"})
		return
	}
	err := h.svc.Approve(c.Request.Context(), req.TargetID, *req.Approved)
	respond(c, gin.H{"targetId": req.TargetID, "approved": *req.Approved}, err)
}

func (h handlers) leave(c *gin.Context) {
	err := h.svc.Leave(c.Request.Context())
	respond(c, gin.H{"left": true}, err)
}
