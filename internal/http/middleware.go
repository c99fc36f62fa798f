package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/farm-checkout/internal/checkout"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	HeaderBuyerID        = "X-Buyer-ID"
	HeaderSellerID       = "X-Seller-ID"
	HeaderActorRole      = "X-Actor-Role"
	HeaderIdempotencyKey = "Idempotency-Key"
)

type ctxKey int

const (
	buyerIDKey ctxKey = iota
	sellerIDKey
	actorRoleKey
)

// IdentityMiddleware copies the caller identity set by the upstream gateway
// into the request context. Authentication happens before this service.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if buyerID := strings.TrimSpace(r.Header.Get(HeaderBuyerID)); buyerID != "" {
			ctx = context.WithValue(ctx, buyerIDKey, buyerID)
		}
		if sellerID := strings.TrimSpace(r.Header.Get(HeaderSellerID)); sellerID != "" {
			ctx = context.WithValue(ctx, sellerIDKey, sellerID)
		}
		if role := strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderActorRole))); role != "" {
			ctx = context.WithValue(ctx, actorRoleKey, checkout.ActorRole(role))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func buyerIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(buyerIDKey).(string)
	return id
}

func sellerIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sellerIDKey).(string)
	return id
}

// actorRoleFromContext falls back to buyer when only a buyer id was supplied.
func actorRoleFromContext(ctx context.Context) (checkout.ActorRole, bool) {
	if role, ok := ctx.Value(actorRoleKey).(checkout.ActorRole); ok {
		return role, true
	}
	if buyerIDFromContext(ctx) != "" {
		return checkout.RoleBuyer, true
	}
	return "", false
}

// RequestLogger writes one structured line per request.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.InfoContext(r.Context(), "http request",
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)))
		})
	}
}

func MaxBodySize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
