package routes

import (
	"net/http"

	"physio/physio/config"
	"physio/physio/controllers"
	"physio/physio/middlewares"

	"github.com/go-chi/chi/v5"
)

func PatientRoutes(ctrl *controllers.PatientController, cfg config.Config) chi.Router {
	r := chi.NewRouter()
	r.Group(func(gr chi.Router) {
		gr.Use(middlewares.AuthMiddleware(cfg))
		gr.Get("/me", handleJSON(func(r *http.Request) (any, int, error) {
			p, err := ctrl.Me(r.Context(), middlewares.UserID(r.Context()))
			if err != nil {
				return nil, 0, err
			}
			return p, http.StatusOK, nil
		}))
	})
	return r
}
