package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/neonarcade/tictactoe-backend/internal/apperror"
	"github.com/neonarcade/tictactoe-backend/internal/entity"
)

type credentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type createRoomRequest struct {
	Mode string `json:"mode"`
}

func (that *Server) ping(ctx *gin.Context) {
	ctx.String(http.StatusOK, "pong")
}

func (that *Server) register(ctx *gin.Context) {
	logger := that.logger.With("method", "register")

	var req credentialsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	user, err := that.users.Register(ctx.Request.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, apperror.ErrUserAlreadyExists),
			errors.Is(err, apperror.ErrInvalidUsername),
			errors.Is(err, apperror.ErrWeakPassword):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			logger.Error("failed to register user", "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	token, err := that.auth.GenerateToken(user.Identity())
	if err != nil {
		logger.Error("failed to issue token", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"message": "registered",
		"user_id": user.ID,
		"token":   token,
	})
}

func (that *Server) login(ctx *gin.Context) {
	logger := that.logger.With("method", "login")

	var req credentialsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	user, err := that.users.Login(ctx.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, apperror.ErrInvalidCredentials) {
			ctx.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
			return
		}

		logger.Error("failed to log user in", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	token, err := that.auth.GenerateToken(user.Identity())
	if err != nil {
		logger.Error("failed to issue token", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "logged in",
		"user_id": user.ID,
		"token":   token,
	})
}

// logout exists for client symmetry: tokens are stateless, dropping the token
// on the client side is the whole operation.
func (that *Server) logout(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (that *Server) createRoom(ctx *gin.Context) {
	logger := that.logger.With("method", "createRoom")

	var req createRoomRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
			return
		}
	}

	mode := req.Mode
	if mode == "" {
		mode = entity.ModeHuman
	}

	if mode != entity.ModeHuman && mode != entity.ModeAI {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "mode must be \"human\" or \"ai\""})
		return
	}

	session, err := that.rooms.Create(mode)
	if err != nil {
		logger.Error("failed to create room", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	logger.Info("room created", "room", session.Code(), "mode", mode)

	ctx.JSON(http.StatusCreated, gin.H{"room_code": session.Code()})
}
