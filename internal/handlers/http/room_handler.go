package http

import (
	"context"
	"net/http"
	"time"

	"syncroom/internal/core/domain"
	"syncroom/internal/core/ports"
	"syncroom/internal/core/services"
	apperrors "syncroom/pkg/errors"
	"syncroom/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RoomEvents is told about scheduling changes so other relay instances can
// drop cached rooms.
type RoomEvents interface {
	RoomScheduled(ctx context.Context, roomID domain.RoomID) error
	RoomCancelled(ctx context.Context, roomID domain.RoomID) error
}

type RoomHandler struct {
	roomService ports.RoomService
	membership  ports.MembershipService
	authService services.AuthService
	events      RoomEvents
	logger      *zap.SugaredLogger
}

func NewRoomHandler(
	roomService ports.RoomService,
	membership ports.MembershipService,
	authService services.AuthService,
	events RoomEvents,
	logger *zap.SugaredLogger,
) *RoomHandler {
	return &RoomHandler{
		roomService: roomService,
		membership:  membership,
		authService: authService,
		events:      events,
		logger:      logger,
	}
}

// SetupRoutes mounts the admin API under /api/v1; guard protects every route.
func (h *RoomHandler) SetupRoutes(router gin.IRouter, guard gin.HandlerFunc) {
	api := router.Group("/api/v1")
	if guard != nil {
		api.Use(guard)
	}
	{
		api.POST("/rooms", h.ScheduleRoom)
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:id", h.GetRoom)
		api.DELETE("/rooms/:id", h.CancelRoom)
		api.POST("/rooms/:id/tokens", h.IssueJoinToken)
	}
}

type scheduleRoomRequest struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	ScheduledStart  time.Time `json:"scheduled_start"`
	PlannedDuration string    `json:"planned_duration" binding:"required"`
	GraceWindow     string    `json:"grace_window"`
}

type roomResponse struct {
	ID              domain.RoomID        `json:"id"`
	Title           string               `json:"title"`
	ScheduledStart  time.Time            `json:"scheduled_start"`
	PlannedDuration string               `json:"planned_duration"`
	GraceWindow     string               `json:"grace_window"`
	ExpiresAt       time.Time            `json:"expires_at"`
	Participants    []domain.Participant `json:"participants,omitempty"`
}

func toRoomResponse(room *domain.Room) roomResponse {
	return roomResponse{
		ID:              room.ID,
		Title:           room.Title,
		ScheduledStart:  room.ScheduledStart,
		PlannedDuration: room.PlannedDuration.String(),
		GraceWindow:     room.GraceWindow.String(),
		ExpiresAt:       room.ExpiresAt(),
	}
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, apperrors.NewInvalidInputError(field + " must be a duration such as 45m")
	}
	return d, nil
}

func (h *RoomHandler) ScheduleRoom(c *gin.Context) {
	var req scheduleRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	planned, err := parseDuration("planned_duration", req.PlannedDuration)
	if err != nil {
		c.Error(err)
		return
	}
	grace, err := parseDuration("grace_window", req.GraceWindow)
	if err != nil {
		c.Error(err)
		return
	}

	room, err := h.roomService.ScheduleRoom(c.Request.Context(), &domain.Room{
		ID:              domain.RoomID(req.ID),
		Title:           validation.SanitizeString(req.Title),
		ScheduledStart:  req.ScheduledStart,
		PlannedDuration: planned,
		GraceWindow:     grace,
	})
	if err != nil {
		c.Error(err)
		return
	}

	h.publish(c, func(ctx context.Context) error { return h.events.RoomScheduled(ctx, room.ID) })
	h.logger.Infow("room scheduled",
		"room_id", room.ID,
		"expires_at", room.ExpiresAt(),
		"by", c.GetString("admin_subject"),
	)
	c.JSON(http.StatusCreated, gin.H{"room": toRoomResponse(room)})
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.roomService.ListRooms(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	out := make([]roomResponse, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, toRoomResponse(room))
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	room, err := h.roomService.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		c.Error(err)
		return
	}

	resp := toRoomResponse(room)
	resp.Participants = h.membership.Roster(roomID)
	c.JSON(http.StatusOK, gin.H{
		"room":    resp,
		"expired": room.Expired(time.Now()),
	})
}

// CancelRoom deletes the schedule. Participants already connected stay
// connected; new joins are refused.
func (h *RoomHandler) CancelRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	if err := h.roomService.CancelRoom(c.Request.Context(), roomID); err != nil {
		c.Error(err)
		return
	}

	h.publish(c, func(ctx context.Context) error { return h.events.RoomCancelled(ctx, roomID) })
	h.logger.Infow("room cancelled", "room_id", roomID, "by", c.GetString("admin_subject"))
	c.Status(http.StatusNoContent)
}

type issueTokenRequest struct {
	ParticipantID string `json:"participant_id" binding:"required"`
	Name          string `json:"name"`
	// Role accepts engine roles and interviewer/candidate/admin.
	Role string `json:"role" binding:"required"`
}

func (h *RoomHandler) IssueJoinToken(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateParticipantID(req.ParticipantID); err != nil {
		c.Error(err)
		return
	}
	if err := validation.ValidateDisplayName(req.Name); err != nil {
		c.Error(err)
		return
	}
	role, err := domain.RoleFromInterviewRole(req.Role)
	if err != nil {
		c.Error(err)
		return
	}

	room, err := h.roomService.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		c.Error(err)
		return
	}
	if room.Expired(time.Now()) {
		c.Error(domain.ErrRoomExpired)
		return
	}

	token, err := h.authService.IssueJoinToken(room, domain.ParticipantID(req.ParticipantID), req.Name, role)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token":           token,
		"room_id":         room.ID,
		"participant_id":  req.ParticipantID,
		"role":            role,
		"room_expires_at": room.ExpiresAt(),
	})
}

func (h *RoomHandler) publish(c *gin.Context, fn func(ctx context.Context) error) {
	if h.events == nil {
		return
	}
	if err := fn(c.Request.Context()); err != nil {
		h.logger.Warnw("failed to publish room event", "error", err)
	}
}
