package httpserver

import (
	"net/http"

	"lv-cfd/internal/accounts"
	"lv-cfd/internal/auth"
	"lv-cfd/internal/httputil"
	"lv-cfd/internal/instruments"
	"lv-cfd/internal/margin"
	"lv-cfd/internal/notify"
	"lv-cfd/internal/orders"
	"lv-cfd/internal/positions"

	"github.com/go-chi/chi/v5"
)

type RouterDeps struct {
	AuthHandler        *auth.Handler
	AccountsHandler    *accounts.Handler
	InstrumentsHandler *instruments.Handler
	OrderHandler       *orders.Handler
	PositionHandler    *positions.Handler
	MarginHandler      *margin.Handler
	NotifyHandler      *notify.Handler
	AuthService        *auth.Service
	InternalToken      string
	WSHandler          http.Handler
}

// authed wraps a handler method that requires the caller's user id.
func authed(fn func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r)
		if !ok {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
			return
		}
		fn(w, r, userID)
	}
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(RateLimitMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/register", d.AuthHandler.Register)
		r.Post("/auth/login", d.AuthHandler.Login)
		r.Get("/instruments", d.InstrumentsHandler.List)
		r.Get("/notifications/ws", d.WSHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))
			r.Get("/me", authed(d.AuthHandler.Me))
			r.Get("/account", authed(d.AccountsHandler.Snapshot))

			r.Post("/orders", authed(d.OrderHandler.Place))
			r.Get("/orders", authed(d.OrderHandler.List))
			r.Delete("/orders/{id}", authed(d.OrderHandler.Cancel))

			r.Get("/positions", authed(d.PositionHandler.List))
			r.Post("/positions/{id}/close", authed(d.PositionHandler.Close))
			r.Get("/positions/closures", authed(d.PositionHandler.Closures))

			r.Get("/margin/events", authed(d.MarginHandler.History))
			r.Get("/notifications", authed(d.NotifyHandler.List))
		})

		r.Group(func(r chi.Router) {
			r.Use(InternalAuth(d.InternalToken))
			r.Post("/internal/margin/sweep", d.MarginHandler.Sweep)
			r.Post("/internal/orders/trigger", d.OrderHandler.Trigger)
		})
	})
	return r
}
