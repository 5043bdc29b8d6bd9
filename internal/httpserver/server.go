package httpserver

import (
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	openai "github.com/sashabaranov/go-openai"

	"github.com/mcdl70/pitch-perfect/internal/analysis"
	"github.com/mcdl70/pitch-perfect/internal/config"
	"github.com/mcdl70/pitch-perfect/internal/dialogue"
	"github.com/mcdl70/pitch-perfect/internal/llm"
	"github.com/mcdl70/pitch-perfect/internal/report"
	"github.com/mcdl70/pitch-perfect/internal/session"
	"github.com/mcdl70/pitch-perfect/internal/storage"
	"github.com/mcdl70/pitch-perfect/internal/stt"
	"github.com/mcdl70/pitch-perfect/internal/tts"
)

// Server bundles the echo router and the interview components.
type Server struct {
	echo     *echo.Echo
	cfg      config.Config
	sessions *session.Manager

	analyzer    *analysis.Analyzer
	engine      *dialogue.Engine
	reporter    *report.Generator
	transcriber *stt.Client
	synth       *tts.ElevenLabsClient
	store       *storage.Store

	mu   sync.Mutex
	hubs map[string]*hub
}

type echoValidator struct {
	validate *validator.Validate
}

func (v *echoValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

// New constructs the server with all routes registered.
func New(cfg config.Config) *Server {
	chatAPI := openai.NewClient(cfg.OpenAIKey)
	chat := llm.New(chatAPI, cfg.OpenAIChatModel)

	s := &Server{
		cfg:         cfg,
		sessions:    session.NewManager(cfg.SessionTTL),
		analyzer:    analysis.New(chat),
		engine:      dialogue.New(chat),
		reporter:    report.New(chat),
		transcriber: stt.New(chatAPI, cfg.OpenAIWhisperModel, cfg.TranscriptLanguage),
		synth:       tts.NewElevenLabsClient(cfg.ElevenLabsKey),
		store:       storage.New(storage.Config{URL: cfg.SupabaseURL, AnonKey: cfg.SupabaseAnonKey}),
		hubs:        make(map[string]*hub),
	}

	s.buildRouter()
	return s
}

func (s *Server) buildRouter() {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Validator = &echoValidator{validate: validator.New()}

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })

	api := e.Group("/api")
	api.POST("/analyze", s.analyze)
	api.POST("/interviews", s.createInterview)
	api.POST("/interviews/:id/begin", s.beginInterview)
	api.POST("/interviews/:id/turns", s.submitTurn)
	api.POST("/interviews/:id/recordings", s.submitRecording)
	api.POST("/interviews/:id/interrupt", s.interrupt)
	api.GET("/interviews/:id", s.getInterview)
	api.GET("/interviews/:id/events", s.events)
	api.GET("/records", s.listRecords)
	api.GET("/records/:id", s.getRecord)

	s.echo = e
}

// Echo exposes the router for the entrypoint and tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Close releases every live session and its event hub.
func (s *Server) Close() {
	s.sessions.Close()
	s.mu.Lock()
	hubs := make([]*hub, 0, len(s.hubs))
	for id, h := range s.hubs {
		hubs = append(hubs, h)
		delete(s.hubs, id)
	}
	s.mu.Unlock()
	for _, h := range hubs {
		h.closeAll()
	}
}

func (s *Server) hubFor(id string) *hub {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hubs[id]
	if !ok {
		h = newHub()
		s.hubs[id] = h
	}
	return h
}

func (s *Server) dropHub(id string) {
	s.mu.Lock()
	h, ok := s.hubs[id]
	delete(s.hubs, id)
	s.mu.Unlock()
	if ok {
		h.closeAll()
	}
}
