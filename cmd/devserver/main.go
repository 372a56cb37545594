// devserver is a minimal two-party relay for local development and
// end-to-end testing of the chat client: a token endpoint, a history
// endpoint backed by SQLite, and a websocket relay speaking the client's
// frame protocol.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/appointly/chatsync/internal/log"
	"github.com/appointly/chatsync/internal/proto"
)

const tokenTTL = 24 * time.Hour

type devClaims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	dbPath := flag.String("db", "devserver.db", "SQLite database path")
	secret := flag.String("secret", "dev-secret-change-me", "JWT signing secret")
	noIDs := flag.Bool("no-ids", false, "ack and echo messages without server ids")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger := log.New(*logLevel)

	store, err := OpenStore(*dbPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer store.Close()

	rl := newRelay(store, []byte(*secret), *noIDs, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/api/token", func(c *gin.Context) {
		var body struct {
			UserID int64 `json:"user_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
			return
		}
		tok, err := mintToken([]byte(*secret), body.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "mint token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": tok})
	})

	router.GET("/api/conversations/:id/messages", func(c *gin.Context) {
		userID, err := authorize([]byte(*secret), c.GetHeader("Authorization"))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		otherID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad conversation id"})
			return
		}

		stored, err := store.Conversation(c.Request.Context(), userID, otherID)
		if err != nil {
			logger.Error().Err(err).Msg("load conversation")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "load conversation"})
			return
		}

		out := make([]proto.WireMessage, 0, len(stored))
		for _, m := range stored {
			out = append(out, proto.WireMessage{
				ID:         proto.FormatID(m.ID),
				SenderID:   m.SenderID,
				ReceiverID: m.ReceiverID,
				Content:    m.Content,
				SentTime:   m.SentTime.Format(time.RFC3339),
			})
		}
		c.JSON(http.StatusOK, out)
	})

	router.GET("/ws", gin.WrapH(rl))
	router.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	server := &http.Server{
		Addr:              *addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", *addr).Bool("no_ids", *noIDs).Msg("devserver listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Fatal().Err(err).Msg("server exited")
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info().Msg("shutting down")
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("shutdown")
		}
		<-serverErr
	}
}

func mintToken(secret []byte, userID int64) (string, error) {
	now := time.Now()
	claims := devClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "chatsync-devserver",
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func verifyToken(secret []byte, tokenString string) (int64, error) {
	token, err := jwt.ParseWithClaims(tokenString, &devClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := token.Claims.(*devClaims)
	if !ok || !token.Valid || claims.UserID == 0 {
		return 0, fmt.Errorf("invalid token claims")
	}
	return claims.UserID, nil
}

func authorize(secret []byte, header string) (int64, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return 0, fmt.Errorf("missing bearer token")
	}
	return verifyToken(secret, strings.TrimPrefix(header, prefix))
}
