// Package api serves the stored series over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"token-indexer/internal/instrument"
	"token-indexer/internal/logging"
	"token-indexer/internal/storage"
)

const (
	invalidRequest = "Invalid request"
	shutdownGrace  = 5 * time.Second
)

// Options configure the read API.
type Options struct {
	ListenAddr string
	// LegacyErrors reports lookup failures as 200 with an {"error": ...} body.
	LegacyErrors bool
	ReadTimeout  time.Duration
	// Metrics, when non-nil, is mounted at /metrics.
	Metrics http.Handler
}

// Server exposes the read endpoints.
type Server struct {
	opts        Options
	store       storage.Gateway
	instruments *instrument.Set
	logger      zerolog.Logger
	web         *http.Server
}

// New builds the server and its router.
func New(opts Options, store storage.Gateway, instruments *instrument.Set, logger zerolog.Logger) *Server {
	s := &Server{
		opts:        opts,
		store:       store,
		instruments: instruments,
		logger:      logging.Component(logger, "api"),
	}
	s.web = &http.Server{
		Addr:              opts.ListenAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: opts.ReadTimeout,
		ReadTimeout:       opts.ReadTimeout,
	}
	return s
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	price := r.Group("/api/price")
	price.GET("/:instrument", s.latest(storage.TablePrices))
	price.GET("/history/:instrument", s.series(storage.TablePrices))
	price.GET("/hourly/:instrument", s.series(storage.TableHourlyPrices))
	price.GET("/daily/:instrument", s.series(storage.TableDailyPrices))

	mcap := r.Group("/api/mcap")
	mcap.GET("/:instrument", s.latest(storage.TableMarketCaps))
	mcap.GET("/history/:instrument", s.series(storage.TableMarketCaps))
	mcap.GET("/daily/:instrument", s.series(storage.TableDailyMarketCaps))

	if s.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.opts.Metrics))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": invalidRequest})
	})
	return r
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	closed := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.ListenAddr).Msg("read api listening")
		closed <- s.web.ListenAndServe()
	}()

	select {
	case err := <-closed:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := s.web.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("read api shutdown")
		}
		return ctx.Err()
	}
}

func (s *Server) latest(table storage.Table) gin.HandlerFunc {
	return func(c *gin.Context) {
		inst, ok := s.lookup(c)
		if !ok {
			return
		}
		row, err := s.store.QueryLatest(c.Request.Context(), table, inst.Address)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, row)
	}
}

func (s *Server) series(table storage.Table) gin.HandlerFunc {
	return func(c *gin.Context) {
		inst, ok := s.lookup(c)
		if !ok {
			return
		}
		rows, err := s.store.QueryAll(c.Request.Context(), table, inst.Address)
		if err != nil {
			s.fail(c, err)
			return
		}
		if rows == nil {
			rows = []storage.Row{}
		}
		c.JSON(http.StatusOK, rows)
	}
}

func (s *Server) lookup(c *gin.Context) (instrument.Instrument, bool) {
	inst, ok := s.instruments.Lookup(c.Param("instrument"))
	if !ok {
		// an unknown instrument is an unknown path; 404 in both error modes
		c.JSON(http.StatusNotFound, gin.H{"error": invalidRequest})
		return instrument.Instrument{}, false
	}
	return inst, true
}

func (s *Server) fail(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(c, http.StatusNotFound, "no data for instrument")
		return
	}
	s.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("query failed")
	s.respondError(c, http.StatusInternalServerError, "query failed")
}

func (s *Server) respondError(c *gin.Context, status int, msg string) {
	if s.opts.LegacyErrors {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"error": msg})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}
