package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/biosample-enricher/internal/cache"
	"github.com/sells-group/biosample-enricher/internal/enrich"
	"github.com/sells-group/biosample-enricher/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve elevation lookups over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnricher(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		router := buildRouter(env.Service, env.Store, routerOptions{
			RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSecs) * time.Second,
			MaxProviders:   cfg.Server.MaxProvidersPerQuery,
		})
		return startServer(ctx, router, resolvePort(servePort, cfg.Server.Port),
			time.Duration(cfg.Server.ShutdownTimeoutSecs)*time.Second)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// resolvePort prefers the flag value over config.
func resolvePort(flag, configured int) int {
	if flag != 0 {
		return flag
	}
	return configured
}

type routerOptions struct {
	RequestTimeout time.Duration
	// MaxProviders caps the preferred list a caller may send.
	MaxProviders int
}

// buildRouter registers the API routes. st may be nil.
func buildRouter(svc *enrich.Service, st *cache.Store, opts routerOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(api chi.Router) {
		if opts.RequestTimeout > 0 {
			api.Use(middleware.Timeout(opts.RequestTimeout))
		}

		api.Get("/elevation", func(w http.ResponseWriter, r *http.Request) {
			lat, lon, err := coordParams(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			q := r.URL.Query()
			req := enrich.NewRequest(lat, lon)
			req.PreferredProviders = splitList(q.Get("providers"))
			if opts.MaxProviders > 0 && len(req.PreferredProviders) > opts.MaxProviders {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d providers may be requested", opts.MaxProviders))
				return
			}
			if req.ReadFromCache, err = boolParam(q, "read_cache", req.ReadFromCache); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			if req.WriteToCache, err = boolParam(q, "write_cache", req.WriteToCache); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}

			report, err := svc.Lookup(r.Context(), req, q.Get("subject_id"))
			if err != nil {
				if errors.Is(err, model.ErrInvalidCoordinate) {
					writeError(w, http.StatusBadRequest, err.Error())
					return
				}
				zap.L().Error("lookup failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "lookup failed")
				return
			}
			writeJSON(w, http.StatusOK, report)
		})

		api.Get("/classify", func(w http.ResponseWriter, r *http.Request) {
			lat, lon, err := coordParams(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			if err := model.ValidateCoordinates(lat, lon); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, svc.Classify(r.Context(), lat, lon))
		})

		api.Get("/cache/stats", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, st.Stats(r.Context()))
		})
	})

	return r
}

// coordParams parses the lat and lon query parameters.
func coordParams(r *http.Request) (float64, float64, error) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		return 0, 0, eris.New("lat is required and must be a number")
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		return 0, 0, eris.New("lon is required and must be a number")
	}
	return lat, lon, nil
}

// boolParam parses an optional boolean query parameter, returning def when
// it is absent.
func boolParam(q url.Values, name string, def bool) (bool, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, eris.Errorf("%s must be a boolean", name)
	}
	return b, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// startServer serves handler on port until ctx is done, then shuts down
// gracefully within shutdownTimeout.
func startServer(ctx context.Context, handler http.Handler, port int, shutdownTimeout time.Duration) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- eris.Wrap(err, "server listen")
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return <-errCh
}
