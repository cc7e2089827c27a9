package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-quiz/internal/middleware"
	"github.com/stemsi/exstem-quiz/internal/response"
	"github.com/stemsi/exstem-quiz/internal/service"
	"github.com/stemsi/exstem-quiz/internal/validator"
	ws "github.com/stemsi/exstem-quiz/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
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

// WSHandler handles the WebSocket exam stream.
type WSHandler struct {
	identity    *service.IdentityService
	examService *service.ExamService
	sessions    *service.ExamSessionService
	log         zerolog.Logger
	upgrader    websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	identity *service.IdentityService,
	examService *service.ExamService,
	sessions *service.ExamSessionService,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		identity:    identity,
		examService: examService,
		sessions:    sessions,
		log:         log.With().Str("component", "ws_handler").Logger(),
		upgrader:    buildUpgrader(allowedOrigins),
	}
}

// ExamWebSocketStream godoc
// WS /ws/v1/exam?token=&subject_id=&chapter_id=
// Runs one exam: start or resume, answers, countdown ticks and grading.
// Without a token a new anonymous identity is minted and returned in the
// first session event.
func (h *WSHandler) ExamWebSocketStream(c *gin.Context) {
	var userID, minted string
	if claims := middleware.GetClaims(c); claims != nil {
		userID = claims.UserID
	} else {
		token, id, err := h.identity.IssueAnonymousToken()
		if err != nil {
			h.log.Warn().Err(err).Msg("Cannot mint identity for exam stream")
			response.FailFromError(c, err)
			return
		}
		userID, minted = id, token
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	ctx := service.WithIdentity(c.Request.Context(), userID)

	st := &examStream{
		h:         h,
		conn:      conn,
		ctx:       ctx,
		token:     minted,
		subjectID: c.Query("subject_id"),
		chapterID: c.Query("chapter_id"),
		countdown: service.NewCountdown(),
		log:       h.log.With().Str("user_id", userID).Logger(),
	}
	defer st.countdown.Stop()

	st.log.Info().Msg("Student connected")
	st.serve()
}

// examStream is the per-connection state of one exam.
type examStream struct {
	h         *WSHandler
	conn      *ws.Conn
	ctx       context.Context
	token     string
	subjectID string
	chapterID string
	countdown *service.Countdown
	log       zerolog.Logger

	mu     sync.Mutex
	run    *service.ExamRun
	graded bool
}

func (st *examStream) serve() {
	for {
		data, err := st.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				st.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				st.log.Debug().Msg("Connection closed")
			}
			return
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			st.writeError(response.ErrInvalidPayload)
			continue
		}

		switch env.Action {
		case ws.ActionStart:
			st.handleStart(data)
		case ws.ActionAnswer:
			st.handleAnswer(data)
		case ws.ActionSubmit:
			st.handleSubmit()
		case ws.ActionPing:
			st.write(ws.PongResponse{Event: ws.EventPong})
		default:
			st.log.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			st.writeError(response.ErrUnknownAction)
		}
	}
}

func (st *examStream) handleStart(data []byte) {
	var req ws.StartRequest
	if err := json.Unmarshal(data, &req); err != nil {
		st.writeError(response.ErrInvalidPayload)
		return
	}
	if fields := validator.Validate(&req); fields != nil {
		st.writeError(response.ErrValidation)
		return
	}
	if req.SubjectID == "" {
		req.SubjectID = st.subjectID
	}
	if req.ChapterID == "" {
		req.ChapterID = st.chapterID
	}

	st.mu.Lock()
	if st.run != nil {
		run := st.run
		st.mu.Unlock()
		st.sendSession(run, false)
		return
	}
	st.mu.Unlock()

	run, err := st.h.examService.Start(st.ctx, service.StartRequest{
		SubjectID:  req.SubjectID,
		ChapterID:  req.ChapterID,
		DeviceInfo: req.Device,
	})
	if run == nil {
		st.log.Warn().Err(err).Str("subject_id", req.SubjectID).Msg("Exam start failed")
		st.writeError(startErrorCode(err))
		return
	}

	degraded := errors.Is(err, service.ErrSessionWrite)
	if degraded {
		st.log.Warn().Err(err).Str("session_id", run.Handle.ID()).Msg("Exam running without persistence")
	}

	st.mu.Lock()
	st.run = run
	st.mu.Unlock()

	st.log = st.log.With().Str("session_id", run.Handle.ID()).Logger()
	st.sendSession(run, degraded)

	st.countdown.Start(run.Handle.EndTime(),
		func(remaining string) {
			st.write(ws.TickResponse{Event: ws.EventTick, Remaining: remaining})
		},
		func() {
			st.log.Info().Msg("Exam time is up")
			st.grade(true)
		},
	)
}

func (st *examStream) sendSession(run *service.ExamRun, degraded bool) {
	st.write(ws.SessionResponse{
		Event:     ws.EventSession,
		Token:     st.token,
		Degraded:  degraded,
		State:     run.Handle.State(time.Now()),
		Questions: service.StudentView(run.Questions),
	})
}

func (st *examStream) handleAnswer(data []byte) {
	var req ws.AnswerRequest
	if err := json.Unmarshal(data, &req); err != nil {
		st.writeError(response.ErrInvalidPayload)
		return
	}
	req.QID = strings.TrimSpace(req.QID)
	req.Answer = strings.ToUpper(strings.TrimSpace(req.Answer))
	if fields := validator.Validate(&req); fields != nil {
		if _, bad := fields["ans"]; bad {
			st.writeError(response.ErrInvalidOption)
		} else {
			st.writeError(response.ErrValidation)
		}
		return
	}

	run := st.current()
	if run == nil {
		st.writeError(response.ErrExamNotStarted)
		return
	}

	snap, err := st.h.sessions.SaveAnswer(st.ctx, run.Handle, req.QID, req.Answer)
	if err != nil {
		st.writeError(response.ErrUnknownQuestion)
		return
	}
	if snap.Status.Terminal() {
		st.writeError(response.ErrSessionFinished)
		return
	}

	st.write(ws.SavedResponse{Event: ws.EventSaved, QID: req.QID, Answer: req.Answer})
}

func (st *examStream) handleSubmit() {
	if st.current() == nil {
		st.writeError(response.ErrExamNotStarted)
		return
	}
	st.countdown.Stop()
	st.grade(false)
}

// grade finishes and scores the run once; later calls resend nothing.
func (st *examStream) grade(expired bool) {
	st.mu.Lock()
	run := st.run
	if run == nil || st.graded {
		st.mu.Unlock()
		return
	}
	st.graded = true
	st.mu.Unlock()

	res, err := st.h.examService.Grade(st.ctx, run)
	if err != nil {
		st.log.Error().Err(err).Msg("Grading failed")
		st.writeError(response.ErrGradingFailed)
		return
	}

	st.write(ws.GradedResponse{
		Event:   ws.EventGraded,
		Status:  "completed",
		Expired: expired,
		Score:   res.Percentage,
		Correct: res.Correct,
		Total:   res.Total,
	})
}

func (st *examStream) current() *service.ExamRun {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.run
}

func (st *examStream) write(v interface{}) {
	if err := st.conn.WriteTyped(v); err != nil {
		st.log.Debug().Err(err).Msg("Write to client failed")
	}
}

func (st *examStream) writeError(code response.ErrCode) {
	if err := st.conn.WriteError(string(code), response.GetMessage(code)); err != nil {
		st.log.Debug().Err(err).Msg("Write to client failed")
	}
}

func startErrorCode(err error) response.ErrCode {
	_, code := response.Classify(err)
	return code
}
