package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"classtrack/internal/apperr"
	"classtrack/internal/attendance"
	"classtrack/internal/auth"
	"classtrack/internal/config"
	"classtrack/internal/geo"
	"classtrack/internal/httpmiddleware"
	"classtrack/internal/metrics"
	"classtrack/internal/queue"
	"classtrack/internal/report"
	"classtrack/internal/session"
	"classtrack/internal/store"
	"classtrack/internal/student"
)

func main() {
	cfg := config.Load()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.Env != "production" && cfg.Env != "prod" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("http server failed")
	}
}

func runHTTP(cfg config.App, logger zerolog.Logger) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if db == nil {
		return err
	}
	if err != nil {
		logger.Warn().Err(err).Msg("db not reachable")
	}
	defer func() { _ = db.Close() }()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "classtrack:checkins")
	}

	userRepo := auth.NewRepository(db.Client)
	users := auth.NewUsers(userRepo, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
	registry := session.NewRegistry(session.NewRepository(db.Client), logger)
	attRepo := attendance.NewRepository(db.Client)
	ledger := attendance.NewLedger(attRepo, registry, cfg.GeofenceRadiusKm, logger)
	students := student.NewDirectory(student.NewRepository(db.Client), attRepo)
	reports := report.New(ledger, registry, students, userRepo)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/users/register", func(c *gin.Context) {
		var req struct {
			Name     string `json:"name" binding:"required"`
			Email    string `json:"email" binding:"required,email"`
			Phone    string `json:"phone" binding:"required"`
			Password string `json:"password" binding:"required"`
			Role     string `json:"role" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, err := users.Register(c.Request.Context(), req.Name, req.Email, req.Phone, req.Password, auth.Role(req.Role))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"user_id": id})
	})

	r.POST("/v1/users/login", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		user, tok, err := users.Login(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"user_id":      user.ID,
			"role":         user.Role,
			"access_token": tok.Value,
			"expires_at":   tok.ExpiresAt.Unix(),
		})
	})

	r.POST("/v1/students/login", func(c *gin.Context) {
		var req struct {
			ID    int64  `json:"id" binding:"required"`
			Email string `json:"email" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s, err := students.Login(c.Request.Context(), req.ID, req.Email)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"student": s})
	})

	// Check-in is a student action: no privileged role, just the scanned
	// token plus coordinates.
	r.POST("/v1/checkins", func(c *gin.Context) {
		var req struct {
			StudentID int64    `json:"student_id" binding:"required"`
			Token     string   `json:"token" binding:"required"`
			Latitude  *float64 `json:"latitude" binding:"required"`
			Longitude *float64 `json:"longitude" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tok, err := session.DecodeToken(req.Token)
		if err != nil {
			fail(c, err)
			return
		}
		s, err := registry.Get(c.Request.Context(), tok.SessionID)
		if err != nil {
			fail(c, err)
			return
		}
		if s.Code != tok.SessionCode {
			fail(c, apperr.New(apperr.KindInvalidInput, "session code does not match"))
			return
		}
		loc := geo.Point{Lat: *req.Latitude, Lng: *req.Longitude}
		outcome, err := ledger.Mark(c.Request.Context(), req.StudentID, tok.SessionID, loc, time.Now())
		if err != nil {
			if apperr.KindOf(err) == apperr.KindAlreadyMarked {
				metrics.DuplicateCheckins.Inc()
			}
			fail(c, err)
			return
		}
		metrics.Checkins.WithLabelValues(string(outcome.Record.Status), string(outcome.Reason)).Inc()

		if msg, err := queue.NewCheckinMessage(queue.CheckinEvent{
			StudentID: outcome.Record.StudentID,
			SessionID: outcome.Record.SessionID,
			Status:    string(outcome.Record.Status),
			Reason:    string(outcome.Reason),
			MarkedAt:  outcome.Record.MarkedAt,
		}); err == nil {
			if err := q.Publish(c.Request.Context(), msg); err != nil {
				logger.Warn().Err(err).Msg("queue publish failed")
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    outcome.Record.Status,
			"reason":    outcome.Reason,
			"timestamp": outcome.Record.MarkedAt,
		})
	})

	authGroup := r.Group("/v1", auth.BearerAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	// actorFrom re-resolves the caller's role from the store once per
	// request; the resolved Actor is what every operation receives.
	actorFrom := func(c *gin.Context) (auth.Actor, bool) {
		claimsAny, _ := c.Get("claims")
		claims, ok := claimsAny.(auth.Claims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing claims"})
			return auth.Actor{}, false
		}
		userID, err := claims.UserID()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid subject"})
			return auth.Actor{}, false
		}
		actor, err := auth.Resolve(c.Request.Context(), users, userID)
		if err != nil {
			fail(c, err)
			return auth.Actor{}, false
		}
		return actor, true
	}

	authGroup.POST("/students", func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			return
		}
		var req struct {
			ID    int64  `json:"id" binding:"required"`
			Name  string `json:"name" binding:"required"`
			Class string `json:"class" binding:"required"`
			Email string `json:"email" binding:"required,email"`
			Phone string `json:"phone" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		err := students.Add(c.Request.Context(), actor, student.Student{
			ID: req.ID, Name: req.Name, Class: req.Class, Email: req.Email, Phone: req.Phone,
		})
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"student_id": req.ID})
	})

	authGroup.GET("/students", func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			return
		}
		if class := c.Query("class"); class != "" {
			roster, err := reports.ForClass(c.Request.Context(), actor, class)
			if err != nil {
				fail(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"student_count": len(roster), "students": roster})
			return
		}
		all, err := students.List(c.Request.Context(), actor)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"student_count": len(all), "students": all})
	})

	authGroup.PUT("/students/:id", func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			return
		}
		id, err := pathID(c)
		if err != nil {
			fail(c, err)
			return
		}
		var req struct {
			Name  string `json:"name"`
			Email string `json:"email"`
			Class string `json:"class"`
			Phone string `json:"phone"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := students.Update(c.Request.Context(), actor, id, req.Name, req.Email, req.Class, req.Phone); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "student updated"})
	})

	authGroup.DELETE("/students/:id", func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			return
		}
		id, err := pathID(c)
		if err != nil {
			fail(c, err)
			return
		}
		if err := students.Delete(c.Request.Context(), actor, id); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "student deleted"})
	})

	authGroup.DELETE("/students/:id/attendance", func(c *gin.Context) {
		if _, ok := actorFrom(c); !ok {
			return
		}
		id, err := pathID(c)
		if err != nil {
			fail(c, err)
			return
		}
		if err := ledger.DeleteByStudent(c.Request.Context(), id); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "attendance records deleted"})
	})

	authGroup.POST("/sessions", func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			return
		}
		var req struct {
			Name      string   `json:"session_name" binding:"required"`
			Expiry    string   `json:"expiry_time" binding:"required"`
			Class     string   `json:"class" binding:"required"`
			Latitude  *float64 `json:"latitude"`
			Longitude *float64 `json:"longitude"`
			RadiusKm  *float64 `json:"radius_km"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var fence *geo.Point
		if req.Latitude != nil && req.Longitude != nil {
			fence = &geo.Point{Lat: *req.Latitude, Lng: *req.Longitude}
		}
		s, err := registry.Create(c.Request.Context(), actor, req.Name, req.Expiry, req.Class, fence, req.RadiusKm)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"session_id": s.ID, "session_code": s.Code})
	})

	authGroup.GET("/sessions", func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			return
		}
		sessions, err := reports.Sessions(c.Request.Context(), actor, time.Now())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_count": len(sessions), "sessions": sessions})
	})

	authGroup.GET("/sessions/:id/token", func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			return
		}
		id, err := pathID(c)
		if err != nil {
			fail(c, err)
			return
		}
		tok, err := registry.IssueToken(c.Request.Context(), actor, id)
		if err != nil {
			fail(c, err)
			return
		}
		encoded, err := tok.Encode()
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"token":        encoded,
			"session_id":   tok.SessionID,
			"session_code": tok.SessionCode,
			"expiry_time":  tok.ExpiryTime,
		})
	})

	authGroup.DELETE("/sessions/:id", func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			return
		}
		id, err := pathID(c)
		if err != nil {
			fail(c, err)
			return
		}
		if err := registry.Delete(c.Request.Context(), actor, id); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "session deleted"})
	})

	authGroup.DELETE("/sessions/:id/attendance", func(c *gin.Context) {
		if _, ok := actorFrom(c); !ok {
			return
		}
		id, err := pathID(c)
		if err != nil {
			fail(c, err)
			return
		}
		if err := ledger.DeleteBySession(c.Request.Context(), id); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "attendance records deleted"})
	})

	authGroup.POST("/sessions/:id/finalize", func(c *gin.Context) {
		if _, ok := actorFrom(c); !ok {
			return
		}
		id, err := pathID(c)
		if err != nil {
			fail(c, err)
			return
		}
		absent, err := ledger.Finalize(c.Request.Context(), id, time.Now())
		if err != nil {
			fail(c, err)
			return
		}
		metrics.FinalizedSessions.Inc()
		metrics.SynthesizedAbsences.Add(float64(absent))
		c.JSON(http.StatusOK, gin.H{"absent_count": absent})
	})

	authGroup.GET("/sessions/:id/attendance", func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			return
		}
		id, err := pathID(c)
		if err != nil {
			fail(c, err)
			return
		}
		roster, err := reports.ForSession(c.Request.Context(), actor, id)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, roster)
	})

	authGroup.GET("/reports/students/:id", func(c *gin.Context) {
		id, err := pathID(c)
		if err != nil {
			fail(c, err)
			return
		}
		rep, err := reports.StudentHistory(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, rep)
	})

	authGroup.POST("/teachers", func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			return
		}
		var req struct {
			Name     string `json:"name" binding:"required"`
			Email    string `json:"email" binding:"required,email"`
			Phone    string `json:"phone" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, err := users.AddTeacher(c.Request.Context(), actor, req.Name, req.Email, req.Phone, req.Password)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"teacher_id": id})
	})

	authGroup.GET("/teachers", func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			return
		}
		teachers, err := users.Teachers(c.Request.Context(), actor)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"teacher_count": len(teachers), "teachers": teachers})
	})

	authGroup.PUT("/teachers/:id", func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			return
		}
		id, err := pathID(c)
		if err != nil {
			fail(c, err)
			return
		}
		var req struct {
			Name  string `json:"name"`
			Email string `json:"email"`
			Phone string `json:"phone"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := users.UpdateTeacher(c.Request.Context(), actor, id, req.Name, req.Email, req.Phone); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "teacher updated"})
	})

	authGroup.DELETE("/teachers/:id", func(c *gin.Context) {
		actor, ok := actorFrom(c)
		if !ok {
			return
		}
		id, err := pathID(c)
		if err != nil {
			fail(c, err)
			return
		}
		deleted, err := users.DeleteTeacher(c.Request.Context(), actor, id)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "teacher deleted", "teacher": deleted})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.HTTPPort).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down server")

	// Give outstanding requests 10 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server forced shutdown")
	}

	logger.Info().Msg("server exited")
	return nil
}

// fail writes the error with the status its kind maps to.
func fail(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": err.Error()})
}

func pathID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, apperr.New(apperr.KindInvalidInput, "id must be an integer")
	}
	return id, nil
}

// CORS middleware for browser requests.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
