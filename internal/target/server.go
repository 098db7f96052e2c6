// Package target implements a stand-in surge pricing service to run load
// tests against locally.
package target

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	errInvalidJSON  = "invalid JSON"
	errInvalidQuery = "invalid query"
	errNotFound     = "not found"
	errInjected     = "injected failure"
)

// Options configure the server.
type Options struct {
	Market MarketConfig

	// Latency is added to every API response. Jitter adds a uniform random
	// extra delay in [0, Jitter).
	Latency time.Duration
	Jitter  time.Duration

	// FailureRatio is the fraction of API requests answered with 503.
	FailureRatio float64
}

// DriverLocation is the body of POST /driver/location.
type DriverLocation struct {
	DriverID  string   `json:"driverId" validate:"required,max=64"`
	Lat       *float64 `json:"lat" validate:"required,latitude"`
	Lng       *float64 `json:"lng" validate:"required,longitude"`
	Timestamp int64    `json:"timestamp" validate:"gte=0"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Server serves the pricing and driver location API.
type Server struct {
	opts     Options
	market   *Market
	validate *validator.Validate
	router   *chi.Mux
	logger   *zap.Logger
}

// New creates a server. A nil logger disables logging.
func New(opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		opts:     opts,
		market:   NewMarket(opts.Market),
		validate: validator.New(),
		logger:   logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Route("/price", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeResponse(w, http.StatusOK, map[string]string{"status": "healthy", "service": "pricing"})
		})
		r.With(s.inject).Get("/", s.getPrice)
	})

	r.Route("/driver", func(r chi.Router) {
		r.Use(s.inject)
		r.Post("/location", s.postDriverLocation)
		r.Get("/availability", s.getAvailability)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errNotFound, r.URL.Path)
	})

	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Market returns the server's market state.
func (s *Server) Market() *Market {
	return s.market
}

// inject applies the configured latency and failure ratio.
func (s *Server) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delay := s.opts.Latency
		if s.opts.Jitter > 0 {
			delay += time.Duration(rand.Int64N(int64(s.opts.Jitter)))
		}
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-r.Context().Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
		if s.opts.FailureRatio > 0 && rand.Float64() < s.opts.FailureRatio {
			writeError(w, http.StatusServiceUnavailable, errInjected)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getPrice(w http.ResponseWriter, r *http.Request) {
	lat, lng, err := coordinates(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, errInvalidQuery, err)
		return
	}
	writeResponse(w, http.StatusOK, s.market.Quote(lat, lng))
}

func (s *Server) getAvailability(w http.ResponseWriter, r *http.Request) {
	lat, lng, err := coordinates(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, errInvalidQuery, err)
		return
	}
	writeResponse(w, http.StatusOK, s.market.Availability(lat, lng))
}

func (s *Server) postDriverLocation(w http.ResponseWriter, r *http.Request) {
	var data DriverLocation
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSON, err)
		return
	}
	if err := s.validate.Struct(&data); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSON, err)
		return
	}

	geofence := s.market.UpdateDriver(data.DriverID, *data.Lat, *data.Lng)
	writeResponse(w, http.StatusAccepted, map[string]string{"status": "accepted", "geofenceId": geofence})
}

func coordinates(r *http.Request) (float64, float64, error) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil || lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("lat must be a number between -90 and 90, got %q", q.Get("lat"))
	}
	lng, err := strconv.ParseFloat(q.Get("lng"), 64)
	if err != nil || lng < -180 || lng > 180 {
		return 0, 0, fmt.Errorf("lng must be a number between -180 and 180, got %q", q.Get("lng"))
	}
	return lat, lng, nil
}

func writeResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, detail ...any) {
	resp := errorResponse{Error: message}
	if len(detail) > 0 {
		switch v := detail[0].(type) {
		case string:
			resp.Details = v
		case error:
			if v != nil {
				resp.Details = v.Error()
			}
		}
	}
	writeResponse(w, status, resp)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. The ready callback, if set, receives the bound address.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready func(net.Addr)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("target listening",
		zap.String("addr", ln.Addr().String()),
		zap.Duration("latency", s.opts.Latency),
		zap.Duration("jitter", s.opts.Jitter),
		zap.Float64("failureRatio", s.opts.FailureRatio))
	if ready != nil {
		ready(ln.Addr())
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("target shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
