package http

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dkeye/Huddle/internal/adapters/signal"
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	sessionName    = "HuddleSessions"
	profileNameKey = "name"
)

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// ProfileMiddleware exposes the display name remembered in the session so
// the signal endpoint can use it as a default.
func ProfileMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if name, ok := sessions.Default(c).Get(profileNameKey).(string); ok {
			c.Set("profile_name", name)
		}
		c.Next()
	}
}

// Server bundles what the HTTP handlers read from.
type Server struct {
	Registry *app.Registry
	Signal   *signal.SignalWSController
}

func SetupRouter(ctx context.Context, cfg *config.Config, srv Server) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 30, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())
	r.Use(ProfileMiddleware())

	if st, err := os.Stat(cfg.StaticPath); err == nil && st.IsDir() {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(filepath.Join(cfg.StaticPath, "index.html"))
		})
		log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("serving static files")
	}

	r.GET("/healthz", func(c *gin.Context) {
		rooms, participants := srv.Registry.Counts()
		c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": rooms, "participants": participants})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": srv.Registry.Rooms()})
	})
	api.GET("/profile", getProfile)
	api.PUT("/profile", putProfile)
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("ct", c.GetString("client_token")).Msg("ws signal endpoint hit")
		srv.Signal.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}

type profileRequest struct {
	Name string `json:"name"`
}

func getProfile(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"name": c.GetString("profile_name")})
}

func putProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad payload"})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty name"})
		return
	}
	name, err := domain.NormalizeName(req.Name)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess := sessions.Default(c)
	sess.Set(profileNameKey, name)
	if err := sess.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name})
}
