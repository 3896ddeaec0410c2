package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"landpub/internal/batch"
	"landpub/internal/config"
	"landpub/internal/drain"
	"landpub/internal/log"
	"landpub/internal/metrics"
	"landpub/internal/publisher"
	"landpub/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/golang-jwt/jwt/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(r *chi.Mux, cfg *config.Config, queueStore *store.QueueStore,
	recordStore *store.RecordStore, tracker *batch.Tracker, drainer *drain.Drainer,
	publishers map[string]publisher.Publisher, cache *store.ErrorCache,
	exportMetrics *metrics.ExportMetrics, redisClient *redis.Client) {
	logger := log.NewLogger()
	r.Use(httprate.Limit(100, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := queueStore.DB().PingContext(r.Context()); err != nil {
			logger.Error("Database health check failed", zap.Error(err))
			http.Error(w, "Database unhealthy", http.StatusServiceUnavailable)
			return
		}
		if err := redisClient.Ping(r.Context()).Err(); err != nil {
			logger.Error("Redis health check failed", zap.Error(err))
			http.Error(w, "Redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("OK"))
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(cfg.JWTSecret, logger))

		r.Post("/batches", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Platform   string   `json:"platform"`
				Districts  []string `json:"districts"`
				MaxCount   int      `json:"max_count"`
				IncludeAll bool     `json:"include_all"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				logger.Error("Failed to decode open batch request", zap.Error(err))
				http.Error(w, "Invalid request body", http.StatusBadRequest)
				return
			}
			if _, ok := publishers[req.Platform]; !ok {
				logger.Error("Unknown platform", zap.String("platform", req.Platform))
				http.Error(w, "Unknown platform", http.StatusBadRequest)
				return
			}
			sel := store.Selection{Districts: req.Districts, MaxCount: req.MaxCount, IncludeAll: req.IncludeAll}
			b, err := tracker.Open(r.Context(), req.Platform, sel)
			if err != nil {
				logger.Error("Failed to open batch", zap.Error(err))
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			exportMetrics.BatchesOpened.WithLabelValues(req.Platform).Inc()
			writeJSON(w, logger, b)
		})

		r.Get("/batches/{batchID}", func(w http.ResponseWriter, r *http.Request) {
			batchID := chi.URLParam(r, "batchID")
			snap, err := tracker.Get(r.Context(), batchID)
			if err != nil {
				writeStoreError(w, logger, err, "Failed to get batch")
				return
			}
			snap.RecentErrors = cache.RecentErrors(r.Context(), batchID)
			writeJSON(w, logger, snap)
		})

		r.Post("/batches/{batchID}/process", func(w http.ResponseWriter, r *http.Request) {
			batchID := chi.URLParam(r, "batchID")
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

			start := time.Now()
			result, err := drainer.ProcessPass(r.Context(), batchID, limit)
			if err != nil {
				writeStoreError(w, logger, err, "Drain pass failed")
				return
			}
			recordPassMetrics(r.Context(), exportMetrics, result, batchID, time.Since(start), queueStore)
			logger.Info("Drain pass served", zap.String("batch_id", batchID),
				zap.Int("processed", result.Processed), zap.Duration("duration", time.Since(start)))
			writeJSON(w, logger, result)
		})

		r.Post("/batches/{batchID}/pause", transitionHandler(logger, tracker.Pause, "pause"))
		r.Post("/batches/{batchID}/resume", transitionHandler(logger, tracker.Resume, "resume"))
		r.Post("/batches/{batchID}/cancel", transitionHandler(logger, tracker.Cancel, "cancel"))

		r.Post("/batches/{batchID}/retry", func(w http.ResponseWriter, r *http.Request) {
			batchID := chi.URLParam(r, "batchID")
			n, err := tracker.Retry(r.Context(), batchID)
			if err != nil {
				logger.Error("Failed to requeue errored items", zap.Error(err), zap.String("batch_id", batchID))
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			logger.Info("Requeued errored items", zap.String("batch_id", batchID), zap.Int64("count", n))
			writeJSON(w, logger, map[string]int64{"requeued": n})
		})

		// One-shot operator export: open a batch from the selection and drain
		// it to completion in a single long-lived call.
		r.Post("/export", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Platform   string   `json:"platform"`
				Districts  []string `json:"districts"`
				MaxCount   int      `json:"max_count"`
				IncludeAll bool     `json:"include_all"`
				Limit      int      `json:"limit"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				logger.Error("Failed to decode export request", zap.Error(err))
				http.Error(w, "Invalid request body", http.StatusBadRequest)
				return
			}
			if _, ok := publishers[req.Platform]; !ok {
				http.Error(w, "Unknown platform", http.StatusBadRequest)
				return
			}
			sel := store.Selection{Districts: req.Districts, MaxCount: req.MaxCount, IncludeAll: req.IncludeAll}
			b, err := tracker.Open(r.Context(), req.Platform, sel)
			if err != nil {
				logger.Error("Failed to open export batch", zap.Error(err))
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			exportMetrics.BatchesOpened.WithLabelValues(req.Platform).Inc()

			start := time.Now()
			result, err := drainer.DrainBatch(r.Context(), b.ID, req.Limit)
			if err != nil {
				logger.Error("Bulk export failed", zap.Error(err), zap.String("batch_id", b.ID))
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			recordPassMetrics(r.Context(), exportMetrics, result, b.ID, time.Since(start), queueStore)
			logger.Info("Bulk export finished", zap.String("batch_id", b.ID),
				zap.String("status", result.Status), zap.Duration("duration", time.Since(start)))
			writeJSON(w, logger, map[string]interface{}{"batch_id": b.ID, "result": result})
		})

		r.Get("/records", func(w http.ResponseWriter, r *http.Request) {
			platform := r.URL.Query().Get("platform")
			if platform == "" {
				http.Error(w, "Missing platform", http.StatusBadRequest)
				return
			}
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			if limit <= 0 {
				limit = 50
			}
			records, err := recordStore.List(r.Context(), platform, limit)
			if err != nil {
				logger.Error("Failed to list publish records", zap.Error(err))
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, logger, records)
		})

		r.Post("/records/delete", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Platform  string `json:"platform"`
				ListingID int64  `json:"listing_id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "Invalid request body", http.StatusBadRequest)
				return
			}
			pub, ok := publishers[req.Platform]
			if !ok {
				http.Error(w, "Unknown platform", http.StatusBadRequest)
				return
			}
			rec, err := recordStore.Get(r.Context(), req.Platform, req.ListingID)
			if err != nil {
				writeStoreError(w, logger, err, "Failed to load publish record")
				return
			}
			if rec.Status == store.RecordStatusPublished && rec.ExternalPostID != "" {
				if err := pub.DeletePost(r.Context(), rec.ExternalPostID); err != nil {
					logger.Error("Failed to delete external post", zap.Error(err),
						zap.String("external_post_id", rec.ExternalPostID))
					http.Error(w, err.Error(), http.StatusBadGateway)
					return
				}
			}
			if err := recordStore.MarkDeleted(r.Context(), req.Platform, req.ListingID); err != nil {
				writeStoreError(w, logger, err, "Failed to mark record deleted")
				return
			}
			cache.UnmarkPublished(r.Context(), req.Platform, req.ListingID)
			w.Write([]byte("OK"))
		})
	})
}

func recordPassMetrics(ctx context.Context, m *metrics.ExportMetrics, result *drain.PassResult,
	batchID string, duration time.Duration, queueStore *store.QueueStore) {
	m.PassDuration.Observe(duration.Seconds())
	b, err := queueStore.GetBatch(ctx, batchID)
	if err != nil {
		return
	}
	m.PublishTotal.WithLabelValues(b.Platform, "success").Add(float64(result.Succeeded))
	m.PublishTotal.WithLabelValues(b.Platform, "error").Add(float64(result.Failed))
	if result.Completed {
		m.BatchesFinished.WithLabelValues(b.Platform, b.Status).Inc()
	}
}

func transitionHandler(logger *log.Logger,
	fn func(ctx context.Context, batchID string) (bool, error), name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID := chi.URLParam(r, "batchID")
		ok, err := fn(r.Context(), batchID)
		if err != nil {
			logger.Error("Batch transition failed", zap.Error(err),
				zap.String("transition", name), zap.String("batch_id", batchID))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, fmt.Sprintf("batch not eligible for %s", name), http.StatusConflict)
			return
		}
		w.Write([]byte("OK"))
	}
}

func writeJSON(w http.ResponseWriter, logger *log.Logger, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func writeStoreError(w http.ResponseWriter, logger *log.Logger, err error, msg string) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	logger.Error(msg, zap.Error(err))
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func authMiddleware(jwtSecret string, logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := r.Header.Get("Authorization")
			if tokenStr == "" {
				logger.Error("Missing authorization token")
				http.Error(w, "Missing token", http.StatusUnauthorized)
				return
			}
			if len(tokenStr) > 7 && tokenStr[:7] == "Bearer " {
				tokenStr = tokenStr[7:]
			}
			token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				logger.Error("Invalid JWT token", zap.Error(err))
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey{}, token.Claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type claimsKey struct{}
