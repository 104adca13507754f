package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/neonarcade/tictactoe-backend/internal/entity"
	"github.com/neonarcade/tictactoe-backend/internal/registry"
)

type userService interface {
	Register(ctx context.Context, username, password string) (*entity.User, error)
	Login(ctx context.Context, username, password string) (*entity.User, error)
}

type authService interface {
	GenerateToken(identity entity.Identity) (string, error)
}

type roomCreator interface {
	Create(mode string) (*registry.Session, error)
}

// Server exposes the account endpoints and pre-created room codes over HTTP.
type Server struct {
	logger *slog.Logger
	users  userService
	auth   authService
	rooms  roomCreator

	engine *gin.Engine
}

func New(logger *slog.Logger, users userService, auth authService, rooms roomCreator) *Server {
	gin.SetMode(gin.ReleaseMode)

	that := &Server{
		logger: logger,
		users:  users,
		auth:   auth,
		rooms:  rooms,
		engine: gin.New(),
	}

	that.engine.Use(gin.Recovery())

	that.engine.GET("/ping", that.ping)

	api := that.engine.Group("/api")
	api.POST("/register", that.register)
	api.POST("/login", that.login)
	api.POST("/logout", that.logout)
	api.POST("/create-room", that.createRoom)

	return that
}

// Handler exposes the routing tree, mostly for tests.
func (that *Server) Handler() http.Handler {
	return that.engine
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (that *Server) Start(ctx context.Context, port string) error {
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      that.engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = server.Shutdown(shutdownCtx)
	}()

	that.logger.Info("starting http server", "port", port)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}

	return nil
}
