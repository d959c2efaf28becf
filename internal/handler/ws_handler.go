package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/middleware"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/recording"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/response"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/service"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/session"
	ws "github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/websocket"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// clientDevice is the microphone of the connected browser. The browser
// asks for permission itself and reports the outcome with start_capture;
// audio then arrives as binary frames.
type clientDevice struct {
	ready atomic.Bool
}

func (d *clientDevice) Acquire(context.Context) (recording.Capture, error) {
	if !d.ready.Load() {
		return nil, recording.ErrDeviceUnavailable
	}
	return recording.ReleaseFunc(func() error { return nil }), nil
}

// WSHandler streams one assessment session per tab over a WebSocket.
type WSHandler struct {
	sessions *service.SessionService
	limiter  *middleware.RateLimiter
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions *service.SessionService, limiter *middleware.RateLimiter, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		limiter:  limiter,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/student/assessments/:assessment_id/stream?tab=...
// Upgrades to WebSocket, loads the session and relays actions and updates
// until the tab disconnects.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID := c.Param("assessment_id")
	tabID := c.Query("tab")
	if assessmentID == "" || tabID == "" {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{
			"tab": "tab is required",
		})
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Str("student_id", claims.StudentID).
		Str("assessment_id", assessmentID).
		Str("tab", tabID).
		Logger()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	device := &clientDevice{}
	ctrl, err := h.sessions.Open(ctx, service.OpenParams{
		TabID:        tabID,
		Token:        middleware.GetToken(c),
		AssessmentID: assessmentID,
		StudentID:    claims.StudentID,
		Device:       device,
	})
	defer h.sessions.Release(context.WithoutCancel(ctx), tabID, assessmentID, ctrl)

	wsLog.Info().Msg("Student connected")
	if err != nil {
		h.writeErr(conn, ws.ActionLoad, err)
	}
	conn.WriteTyped(ws.ViewResponse{Event: ws.EventView, View: ctrl.View()})

	go h.forward(ctx, conn, ctrl)
	go h.sessions.RunClock(ctx, ctrl)

	s := &wsSession{
		h:            h,
		conn:         conn,
		ctrl:         ctrl,
		device:       device,
		log:          wsLog,
		student:      claims.StudentID,
		tabID:        tabID,
		assessmentID: assessmentID,
	}
	limiter := h.limiter.NewLimiter()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		if kind == websocket.BinaryMessage {
			if _, err := ctrl.WriteAudio(data); err != nil {
				h.writeErr(conn, ws.ActionStartCapture, err)
			}
			continue
		}

		if !limiter.Allow() {
			conn.WriteError(ws.ErrorResponse{Code: response.ErrRateLimitExceeded, Error: response.GetMessage(response.ErrRateLimitExceeded)})
			continue
		}

		var req ws.Request
		if err := json.Unmarshal(data, &req); err != nil {
			conn.WriteError(ws.ErrorResponse{Code: response.ErrInvalidPayload, Error: response.GetMessage(response.ErrInvalidPayload)})
			continue
		}
		if done := s.dispatch(ctx, &req); done {
			return
		}
	}
}

// forward relays controller updates until the connection ends.
func (h *WSHandler) forward(ctx context.Context, conn *ws.Conn, ctrl *session.Controller) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-ctrl.Updates():
			if err := conn.WriteUpdate(u); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) writeErr(conn *ws.Conn, action ws.Action, err error) {
	cl := classify(err)
	if cl.code == response.ErrInternal {
		h.log.Error().Err(err).Str("action", string(action)).Msg("Session action failed")
	}
	conn.WriteError(ws.ErrorResponse{
		Action:    action,
		Code:      cl.code,
		Error:     err.Error(),
		Retryable: cl.retryable,
		Missing:   cl.missing,
	})
}

// wsSession is the per-connection state of the read loop.
type wsSession struct {
	h            *WSHandler
	conn         *ws.Conn
	ctrl         *session.Controller
	device       *clientDevice
	log          zerolog.Logger
	student      string
	tabID        string
	assessmentID string
}

// dispatch runs one client action. It reports whether the connection
// should end.
func (s *wsSession) dispatch(ctx context.Context, req *ws.Request) bool {
	var err error
	switch req.Action {
	case ws.ActionPing:
		s.conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		return false
	case ws.ActionView:
		s.conn.WriteTyped(ws.ViewResponse{Event: ws.EventView, View: s.ctrl.View()})
		return false
	case ws.ActionLoad:
		if err = s.h.sessions.Load(ctx, s.ctrl, s.tabID, s.assessmentID, s.student); err == nil {
			s.conn.WriteTyped(ws.ViewResponse{Event: ws.EventView, View: s.ctrl.View()})
			return false
		}
	case ws.ActionSetAnswer:
		err = s.ctrl.SetAnswer(req.QuestionID, req.Value)
	case ws.ActionNavigate:
		if req.Index == nil {
			err = session.ErrInvalidIndex
			break
		}
		err = s.ctrl.Navigate(ctx, *req.Index)
	case ws.ActionStartCapture:
		s.device.ready.Store(req.DeviceReady)
		err = s.ctrl.StartCapture(ctx, req.QuestionID)
	case ws.ActionStopCapture:
		err = s.ctrl.StopCapture(ctx, req.QuestionID)
	case ws.ActionSelectTake:
		err = s.ctrl.SelectTake(ctx, req.QuestionID, req.TakeID)
	case ws.ActionDeleteTake:
		err = s.ctrl.DeleteTake(ctx, req.QuestionID, req.TakeID)
	case ws.ActionTakePlayback:
		var handle string
		if handle, err = s.ctrl.TakePlayback(req.QuestionID, req.TakeID); err == nil {
			s.conn.WriteTyped(ws.HandleResponse{
				Event:      ws.EventHandle,
				QuestionID: req.QuestionID,
				TakeID:     req.TakeID,
				Handle:     handle,
				URL:        takeAudioPath(s.assessmentID, handle),
			})
			return false
		}
	case ws.ActionTogglePlayback:
		_, err = s.ctrl.TogglePlayback(req.Resource)
	case ws.ActionPlaybackEnded:
		_, err = s.ctrl.PlaybackEnded(req.Resource)
	case ws.ActionAutosave:
		s.ctrl.Autosave(ctx)
	case ws.ActionSubmit:
		// Runs outside the read loop so the tab can keep sending pings
		// while uploads are in flight.
		go func() {
			if err := s.ctrl.Submit(ctx); err != nil {
				s.h.writeErr(s.conn, ws.ActionSubmit, err)
			}
		}()
		return false
	case ws.ActionExit:
		if err = s.ctrl.Exit(ctx); err == nil {
			s.conn.WriteTyped(ws.AckResponse{Event: ws.EventAck, Action: req.Action})
			return true
		}
	default:
		s.log.Warn().Str("action", string(req.Action)).Msg("Unknown action")
		s.conn.WriteError(ws.ErrorResponse{Action: req.Action, Code: response.ErrUnknownAction, Error: "unknown action: " + string(req.Action)})
		return false
	}

	if err != nil {
		s.h.writeErr(s.conn, req.Action, err)
		return false
	}
	s.conn.WriteTyped(ws.AckResponse{Event: ws.EventAck, Action: req.Action})
	return false
}
