// Package devserver runs a local chat backend for development and
// tests: a websocket endpoint that validates the jwt query parameter,
// answers every correlated frame with a canned bot reply under the same
// cid, and pushes periodic check-in messages.
package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Config carries the dev server settings.
type Config struct {
	Port         int
	JWTSecret    string        // empty disables token validation
	PushInterval time.Duration // 0 disables periodic pushes
}

// Server represents the development chat backend.
type Server struct {
	echo     *echo.Echo
	cfg      Config
	upgrader websocket.Upgrader
}

// NewServer creates a new dev server with routes wired.
func NewServer(cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo: e,
		cfg:  cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	s.echo.GET("/chat/ws", s.handleSocket)
}

// Handler exposes the underlying HTTP handler for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start begins the dev server and blocks until interrupted, then shuts
// down gracefully.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.cfg.Port)); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}

// wireFrame is the socket message shape, both directions.
type wireFrame struct {
	CID       string `json:"cid,omitempty"`
	Message   string `json:"message"`
	CreatedAt int64  `json:"createdAt"`
}

func (s *Server) handleSocket(c echo.Context) error {
	if s.cfg.JWTSecret != "" {
		token := c.QueryParam("jwt")
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing jwt")
		}
		_, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(s.cfg.JWTSecret), nil
		})
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid jwt")
		}
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(f wireFrame) error {
		body, err := json.Marshal(f)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, body)
	}

	done := make(chan struct{})
	defer close(done)
	if s.cfg.PushInterval > 0 {
		go s.pushLoop(write, done)
	}

	// 10 messages/s steady with a burst of 20 is generous for a human
	// and stops a runaway client loop.
	limiter := rate.NewLimiter(rate.Limit(10), 20)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		if mt != websocket.TextMessage {
			continue
		}
		var in wireFrame
		if err := json.Unmarshal(data, &in); err != nil {
			log.Debug().Err(err).Msg("Ignoring undecodable client frame")
			continue
		}

		reply := wireFrame{CID: in.CID, CreatedAt: time.Now().UnixMilli()}
		if !limiter.Allow() {
			reply.Message = "메시지가 너무 빨라요. 잠시 후 다시 시도해주세요."
		} else {
			reply.Message = respond(in.Message)
		}
		if err := write(reply); err != nil {
			return nil
		}
	}
}

// pushLoop sends periodic unsolicited check-ins until the connection
// closes.
func (s *Server) pushLoop(write func(wireFrame) error, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			err := write(wireFrame{
				Message:   "잘 지내고 계신가요? 궁금한 점이 있으면 말씀해주세요.",
				CreatedAt: time.Now().UnixMilli(),
			})
			if err != nil {
				return
			}
		}
	}
}

// respond produces a canned bot reply for the dev loop.
func respond(text string) string {
	t := strings.TrimSpace(text)
	switch {
	case t == "":
		return "메시지가 비어 있어요. 하고 싶은 이야기를 적어주세요."
	case strings.Contains(t, "안녕"):
		return "안녕하세요! 오늘 하루는 어떠셨나요?"
	case strings.Contains(t, "힘들") || strings.Contains(t, "우울"):
		return "많이 힘드셨겠어요. 조금 더 자세히 이야기해 주시겠어요?"
	default:
		return fmt.Sprintf("'%s'에 대해 더 자세히 말씀해 주시겠어요?", t)
	}
}
