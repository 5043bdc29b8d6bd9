package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/mcdl70/pitch-perfect/internal/audiocapture"
	"github.com/mcdl70/pitch-perfect/internal/errs"
	"github.com/mcdl70/pitch-perfect/internal/interview"
	"github.com/mcdl70/pitch-perfect/internal/playback"
	"github.com/mcdl70/pitch-perfect/internal/session"
	"github.com/mcdl70/pitch-perfect/internal/tts"
)

// maxRecordingBytes caps the multipart recording upload.
const maxRecordingBytes = 25 << 20

// completedRetention keeps a finished session queryable before it and its
// event hub are released.
const completedRetention = 10 * time.Minute

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// writeError renders the uniform error envelope. Raw upstream bodies and
// status codes never reach the client; only the classified kind and its
// user-facing message do.
func writeError(c echo.Context, err error) error {
	kind := string(errs.KindOf(err))
	message := errs.UserMessage(err)
	retryable := errs.Retryable(err)
	var status int

	switch {
	case errors.Is(err, interview.ErrInterviewerSpeaking):
		status = http.StatusConflict
		kind = "interviewer_speaking"
		message = "The interviewer is still speaking. Wait for the question to finish."
	case errors.Is(err, interview.ErrInvalidState):
		status = http.StatusConflict
		kind = "invalid_state"
		message = "That action is not available right now."
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
		kind = "not_found"
		message = "Interview session not found."
	default:
		switch errs.KindOf(err) {
		case errs.BadInput, errs.TextTooLong, errs.UnsupportedFormat,
			errs.RecordingTooShort, errs.NoSpeechDetected, errs.EmptyAudioReceived:
			status = http.StatusUnprocessableEntity
		case errs.RateLimited:
			status = http.StatusTooManyRequests
		case errs.ServiceUnavailable:
			status = http.StatusServiceUnavailable
		default:
			status = http.StatusBadGateway
		}
	}

	return c.JSON(status, errorEnvelope{Error: errorBody{
		Kind:      kind,
		Message:   message,
		Retryable: retryable,
	}})
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, errorEnvelope{Error: errorBody{
		Kind:    "unauthorized",
		Message: "Sign in to access saved interviews.",
	}})
}

// recordingLimits are the shared thresholds for both recording paths: the
// multipart upload and the websocket capture ingest.
func (s *Server) recordingLimits() audiocapture.Limits {
	return audiocapture.Limits{
		MinDuration: time.Duration(s.cfg.MinRecordingSeconds) * time.Second,
		MinBytes:    s.cfg.MinRecordingBytes,
		MaxBytes:    maxRecordingBytes,
	}
}

// bearerToken extracts the caller's access token. The token is passed through
// to the persistence layer opaquely; row-level security does the enforcement.
func bearerToken(c echo.Context) string {
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

type analyzeRequest struct {
	JobDescription string `json:"job_description" validate:"required"`
	Save           bool   `json:"save"`
}

type analyzeResponse struct {
	Analysis interview.JobAnalysis `json:"analysis"`
	RecordID string                `json:"record_id,omitempty"`
}

func (s *Server) analyze(c echo.Context) error {
	var req analyzeRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, errs.New(errs.BadInput, "api.analyze", "malformed request body"))
	}
	if err := c.Validate(&req); err != nil {
		return writeError(c, errs.New(errs.BadInput, "api.analyze", "job_description is required"))
	}

	a, err := s.analyzer.Analyze(c.Request().Context(), req.JobDescription)
	if err != nil {
		return writeError(c, err)
	}

	resp := analyzeResponse{Analysis: a}
	if req.Save {
		token := bearerToken(c)
		if token == "" {
			return unauthorized(c)
		}
		gw, err := s.store.ForToken(token)
		if err != nil {
			return writeError(c, err)
		}
		id, err := gw.SaveConfiguration(c.Request().Context(), interview.InterviewRecord{
			JobDetails: interview.JobDetails{RawDescription: req.JobDescription, Analysis: a},
		})
		if err != nil {
			return writeError(c, err)
		}
		resp.RecordID = id
	}
	return c.JSON(http.StatusOK, resp)
}

type createInterviewRequest struct {
	Analysis       interview.JobAnalysis `json:"analysis"`
	RawDescription string                `json:"raw_description"`
	VoiceID        string                `json:"voice_id"`
	AudioEnabled   *bool                 `json:"audio_enabled"`
	RecordID       string                `json:"record_id"`
}

type sessionResponse struct {
	ID       string             `json:"id"`
	Snapshot interview.Snapshot `json:"snapshot"`
}

// voiceSynth binds a fixed voice to the synthesis client so the playback
// queue sees the one-argument interface.
type voiceSynth struct {
	client *tts.ElevenLabsClient
	voice  tts.VoiceSettings
}

func (v voiceSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return v.client.Synthesize(ctx, text, v.voice)
}

func (s *Server) createInterview(c echo.Context) error {
	var req createInterviewRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, errs.New(errs.BadInput, "api.create_interview", "malformed request body"))
	}
	if req.Analysis.Empty() {
		return writeError(c, errs.New(errs.BadInput, "api.create_interview", "analysis is required"))
	}

	voiceID := req.VoiceID
	if voiceID == "" {
		voiceID = s.cfg.ElevenLabsVoiceID
	}
	audioEnabled := req.AudioEnabled == nil || *req.AudioEnabled
	audioEnabled = audioEnabled && s.cfg.ElevenLabsKey != "" && voiceID != ""

	h := newHub()
	var queue *playback.Queue
	var speaker interview.Speaker
	if audioEnabled {
		queue = playback.New(
			voiceSynth{client: s.synth, voice: tts.DefaultVoiceSettings(voiceID)},
			&wsPlayer{h: h},
		)
		speaker = queue
	}

	var store interview.PersistenceGateway
	if token := bearerToken(c); token != "" {
		gw, err := s.store.ForToken(token)
		if err != nil {
			log.Printf("api: persistence disabled for session: %v", err)
		} else {
			store = gw
		}
	}

	ctrl := interview.NewController(s.engine, s.reporter, store, s.transcriber, speaker, interview.Options{
		Analysis:       req.Analysis,
		RawDescription: req.RawDescription,
		Config:         interview.SessionConfig{VoiceID: voiceID, AudioEnabled: audioEnabled},
		RecordID:       req.RecordID,
		ClosingDelay:   s.cfg.ClosingDelay,
		OnEvent: func(ev interview.Event) {
			h.broadcast(wsMessage{Type: "event", Event: &ev})
		},
	})

	sess := s.sessions.Add("", ctrl, queue)
	s.mu.Lock()
	s.hubs[sess.ID] = h
	s.mu.Unlock()

	// Release the hub whichever comes first: the post-completion retention
	// window elapsing, or the session being removed or reaped while the
	// interview is still underway.
	go func(id string) {
		select {
		case <-ctrl.Completed():
		case <-sess.Done():
			s.dropHub(id)
			return
		}
		retention := time.NewTimer(completedRetention)
		defer retention.Stop()
		select {
		case <-retention.C:
		case <-sess.Done():
		}
		s.sessions.Remove(id)
		s.dropHub(id)
	}(sess.ID)

	// A failed first question leaves the session in the errored state with
	// the retryable flag set; the begin endpoint is the retry. The session is
	// created either way.
	if _, err := ctrl.Begin(c.Request().Context()); err != nil {
		log.Printf("api: initial question failed for session %s: %v", sess.ID, err)
	}
	return c.JSON(http.StatusCreated, sessionResponse{ID: sess.ID, Snapshot: ctrl.Snapshot()})
}

func (s *Server) beginInterview(c echo.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	if _, err := sess.Controller.Begin(c.Request().Context()); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sessionResponse{ID: sess.ID, Snapshot: sess.Controller.Snapshot()})
}

type turnRequest struct {
	Text string `json:"text" validate:"required"`
}

type turnResponse struct {
	Turn     interview.Turn     `json:"turn"`
	Snapshot interview.Snapshot `json:"snapshot"`
}

func (s *Server) submitTurn(c echo.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	var req turnRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, errs.New(errs.BadInput, "api.submit_turn", "malformed request body"))
	}
	if err := c.Validate(&req); err != nil {
		return writeError(c, errs.New(errs.BadInput, "api.submit_turn", "text is required"))
	}

	reply, err := sess.Controller.Submit(c.Request().Context(), req.Text)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, turnResponse{Turn: reply, Snapshot: sess.Controller.Snapshot()})
}

func (s *Server) submitRecording(c echo.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}

	const op = "api.submit_recording"
	file, err := c.FormFile("audio")
	if err != nil {
		return writeError(c, errs.New(errs.BadInput, op, "audio file missing"))
	}
	src, err := file.Open()
	if err != nil {
		return writeError(c, errs.Wrap(errs.BadInput, op, err))
	}
	defer src.Close()
	data, err := io.ReadAll(io.LimitReader(src, maxRecordingBytes+1))
	if err != nil {
		return writeError(c, errs.Wrap(errs.BadInput, op, err))
	}

	mime := file.Header.Get("Content-Type")
	if v := c.FormValue("mime_type"); v != "" {
		mime = v
	}
	duration, _ := strconv.ParseFloat(c.FormValue("duration_seconds"), 64)
	rec := interview.Recording{
		Data:       data,
		MIMEType:   mime,
		Duration:   time.Duration(duration * float64(time.Second)),
		CapturedAt: time.Now(),
	}
	if err := s.recordingLimits().Check(rec); err != nil {
		return writeError(c, err)
	}

	reply, err := sess.Controller.SubmitRecording(c.Request().Context(), rec)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, turnResponse{Turn: reply, Snapshot: sess.Controller.Snapshot()})
}

func (s *Server) interrupt(c echo.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	sess.Controller.Interrupt()
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getInterview(c echo.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sessionResponse{ID: sess.ID, Snapshot: sess.Controller.Snapshot()})
}

// events upgrades to a websocket carrying state changes, transcript turns and
// synthesized audio for one session. Client-to-server traffic is the control
// messages plus binary audio frames while a recording is live: capture_start
// opens a capture, binary frames feed it, capture_stop finalizes it and
// submits the transcription as the candidate turn.
func (s *Server) events(c echo.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	h := s.hubFor(sess.ID)
	h.add(conn)
	defer h.remove(conn)

	snap := sess.Controller.Snapshot()
	h.mu.Lock()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	writeErr := conn.WriteJSON(wsMessage{Type: "snapshot", Snapshot: &snap})
	h.mu.Unlock()
	if writeErr != nil {
		return nil
	}

	ing := newCaptureIngest(s.recordingLimits(), func(seconds int) {
		h.broadcast(wsMessage{Type: "capture_tick", Seconds: seconds})
	})
	defer ing.cancel()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		switch mt {
		case websocket.BinaryMessage:
			ing.push(data)
		case websocket.TextMessage:
			var msg wsClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			s.handleClientMessage(c.Request().Context(), sess, h, ing, msg)
		}
	}
}

func (s *Server) listRecords(c echo.Context) error {
	token := bearerToken(c)
	if token == "" {
		return unauthorized(c)
	}
	gw, err := s.store.ForToken(token)
	if err != nil {
		return writeError(c, err)
	}
	records, err := gw.ListByOwner(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"records": records})
}

func (s *Server) getRecord(c echo.Context) error {
	token := bearerToken(c)
	if token == "" {
		return unauthorized(c)
	}
	gw, err := s.store.ForToken(token)
	if err != nil {
		return writeError(c, err)
	}
	record, err := gw.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, record)
}
