package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"classcast/pkg/interfaces"
	"classcast/pkg/types"
)

type sessionAPI struct {
	sessions    interfaces.SessionManager
	transcripts TranscriptService
	presence    Presence
}

func registerSessionAPI(g *echo.Group, sessions interfaces.SessionManager, transcripts TranscriptService, presence Presence) {
	a := &sessionAPI{sessions: sessions, transcripts: transcripts, presence: presence}

	sg := g.Group("/sessions")
	sg.POST("", a.sessionCreate)
	sg.GET("", a.sessionQuery)
	sg.POST("/transition", a.sessionTransition)
	sg.GET("/:id", a.sessionRetrieve)
}

// Request/Response types for JSON serialization

// TransitionRequest is the body of POST /api/sessions/transition
type TransitionRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Action    string `json:"action" validate:"required,oneof=pause resume end"`
}

// SessionResponse is a session together with its live channel state.
// LastSequence is only filled in by GET /api/sessions/:id.
type SessionResponse struct {
	*types.ClassroomSession
	ChannelCount int                 `json:"channel_count"`
	Participants []types.Participant `json:"participants,omitempty"`
	LastSequence int64               `json:"last_sequence,omitempty"`
}

// ListSessionsResponse is the body of GET /api/sessions
type ListSessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

// Handlers

// FUNCTIONAL DISCOVERY: POST /api/sessions - 409 carries the id of the session to resume
func (a *sessionAPI) sessionCreate(c echo.Context) error {
	params := new(types.SessionParams)
	if err := c.Bind(params); err != nil {
		return errInvalidBody.WithInternal(err)
	}
	if err := c.Validate(params); err != nil {
		return err
	}

	session, err := a.sessions.CreateSession(c.Request().Context(), contextActor(c), *params)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, SessionResponse{ClassroomSession: session})
}

func (a *sessionAPI) sessionQuery(c echo.Context) error {
	filter := types.SessionFilter{
		Status:  types.SessionStatus(strings.ToUpper(c.QueryParam("status"))),
		ClassID: c.QueryParam("class_id"),
	}
	switch filter.Status {
	case "", types.StatusActive, types.StatusPaused, types.StatusEnded:
	default:
		return errInvalidQuery
	}
	if teacherID := c.QueryParam("teacher_id"); teacherID != "" {
		// only honoured for elevated actors; teachers are scoped to themselves
		filter.TeacherID = teacherID
	}

	sessions, err := a.sessions.ListSessions(c.Request().Context(), contextActor(c), filter)
	if err != nil {
		return err
	}

	resp := ListSessionsResponse{Sessions: make([]SessionResponse, 0, len(sessions))}
	for _, session := range sessions {
		resp.Sessions = append(resp.Sessions, SessionResponse{
			ClassroomSession: session,
			ChannelCount:     a.channelCount(session.ID),
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// FUNCTIONAL DISCOVERY: GET /api/sessions/:id - Include live presence from the registry
func (a *sessionAPI) sessionRetrieve(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return errInvalidSession
	}
	session, err := a.sessions.GetSession(c.Request().Context(), id)
	if err != nil {
		return err
	}

	resp := SessionResponse{ClassroomSession: session, ChannelCount: a.channelCount(id)}
	if a.presence != nil {
		resp.Participants = a.presence.Participants(id)
	}
	if a.transcripts != nil {
		// clients compare it with their newest line to spot a gap after reconnecting
		last, err := a.transcripts.LastSequence(c.Request().Context(), id)
		if err != nil {
			return err
		}
		resp.LastSequence = last
	}
	return c.JSON(http.StatusOK, resp)
}

func (a *sessionAPI) sessionTransition(c echo.Context) error {
	req := new(TransitionRequest)
	if err := c.Bind(req); err != nil {
		return errInvalidBody.WithInternal(err)
	}
	if err := c.Validate(req); err != nil {
		return err
	}

	session, err := a.sessions.Transition(c.Request().Context(), contextActor(c), req.SessionID, types.Action(req.Action))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SessionResponse{ClassroomSession: session, ChannelCount: a.channelCount(session.ID)})
}

func (a *sessionAPI) channelCount(sessionID string) int {
	if a.presence == nil {
		return 0
	}
	return a.presence.ChannelCount(sessionID)
}
