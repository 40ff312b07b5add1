package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Aryanpatel2001/voiceflow/internal/config"
	"github.com/Aryanpatel2001/voiceflow/internal/engine"
	"github.com/Aryanpatel2001/voiceflow/internal/rtc"
	"github.com/Aryanpatel2001/voiceflow/internal/session"
	"github.com/Aryanpatel2001/voiceflow/internal/store"
	"github.com/Aryanpatel2001/voiceflow/internal/telephony"
	"github.com/Aryanpatel2001/voiceflow/internal/tts"
)

// Server bundles the echo router and the per-route handlers: health,
// Twilio webhooks, WebRTC offers and text simulation.
type Server struct {
	Echo *echo.Echo
}

// New constructs the HTTP server with routes.
func New(cfg config.Config, st store.Store, eng *engine.Engine, synth tts.Synthesizer, reg *session.Registry) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	// Browser demos post offers cross-origin.
	e.Use(middleware.CORS())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	tel := &telephony.Handler{
		Store:         st,
		Registry:      reg,
		Engine:        eng,
		Synthesizer:   synth,
		AssemblyAIKey: cfg.AssemblyAIKey,
		DefaultFlowID: cfg.DefaultFlowID,
		PublicHost:    cfg.PublicHost,
	}
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		tel.Dialer = telephony.NewDialer(cfg.TwilioAccountSID, cfg.TwilioAuthToken)
	}
	tw := e.Group("/twilio", telephony.SignatureAuth(func() string { return cfg.TwilioAuthToken }))
	tw.POST("/voice", tel.HandleVoice)
	tw.GET("/stream", tel.HandleStream)

	room := &rtc.Handler{
		Store:         st,
		Registry:      reg,
		Engine:        eng,
		Synthesizer:   synth,
		AssemblyAIKey: cfg.AssemblyAIKey,
		DefaultFlowID: cfg.DefaultFlowID,
	}
	e.POST("/call", handleOffer(room))

	e.POST("/simulate", handleSimulate(st))

	return &Server{Echo: e}
}

func handleOffer(h *rtc.Handler) echo.HandlerFunc {
	return func(c echo.Context) error {
		var offer rtc.SessionDescription
		if err := c.Bind(&offer); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid offer"})
		}
		answer, err := h.HandleOffer(c.Request().Context(), offer)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, answer)
	}
}
