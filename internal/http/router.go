package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/farm-checkout/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
}

type Handlers struct {
	Checkout *CheckoutHandler
	Orders   *OrdersHandler
	Cart     *CartHandler
}

// NewRouter builds the REST surface. readiness reports whether backing stores
// are reachable; nil means always ready.
func NewRouter(
	cfg RouterConfig,
	h Handlers,
	serverMetrics *metrics.ServerMetrics,
	gatherer prometheus.Gatherer,
	readiness func(r *http.Request) error,
	log *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	if serverMetrics != nil {
		r.Use(serverMetrics.Middleware)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ready", func(w http.ResponseWriter, req *http.Request) {
		if readiness != nil {
			if err := readiness(req); err != nil {
				respondError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
		r.Use(MaxBodySize(cfg.MaxRequestBodySize))
		r.Use(IdentityMiddleware)

		r.Post("/checkout", h.Checkout.Checkout)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.Orders.ListOrders)
			r.Get("/{order_id}", h.Orders.GetOrder)
			r.Patch("/{order_id}/status", h.Orders.UpdateStatus)
			r.Post("/{order_id}/cancel", h.Orders.Cancel)
		})
		r.Get("/sellers/{seller_id}/orders", h.Orders.ListSellerOrders)

		r.Route("/buyers/me", func(r chi.Router) {
			r.Get("/orders", h.Orders.ListBuyerOrders)
			r.Get("/addresses", h.Cart.ListAddresses)
			r.Post("/addresses", h.Cart.AddAddress)
		})

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.Cart.GetCart)
			r.Delete("/", h.Cart.ClearCart)
			r.Put("/items/{product_id}", h.Cart.SetQuantity)
			r.Delete("/items/{product_id}", h.Cart.RemoveItem)
		})
	})

	return otelhttp.NewHandler(r, "checkout-http",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}))
}
