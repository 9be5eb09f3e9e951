package routes

import (
	"net/http"
	"time"

	"physio/physio/config"
	"physio/physio/controllers"
	"physio/physio/middlewares"
	"physio/physio/utils/types"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func ConversationRoutes(ctrl *controllers.ConversationController, patients middlewares.PatientLookup, cfg config.Config) chi.Router {
	r := chi.NewRouter()
	r.Group(func(gr chi.Router) {
		gr.Use(middlewares.AuthMiddleware(cfg))
		gr.Use(middlewares.PatientMiddleware(patients))
		gr.Use(middleware.Timeout(30 * time.Second))

		gr.Get("/", handleJSON(func(r *http.Request) (any, int, error) {
			list, err := ctrl.List(r.Context(), middlewares.PatientID(r.Context()))
			if err != nil {
				return nil, 0, err
			}
			return list, http.StatusOK, nil
		}))

		gr.Post("/", handleJSON(func(r *http.Request) (any, int, error) {
			var req types.CreateConversationRequest
			if r.ContentLength != 0 {
				if err := decodeJSON(r, &req); err != nil {
					return nil, 0, err
				}
			}
			conv, err := ctrl.Create(r.Context(), middlewares.PatientID(r.Context()), req.Title)
			if err != nil {
				return nil, 0, err
			}
			return conv, http.StatusCreated, nil
		}))

		gr.Get("/{id}", handleJSON(func(r *http.Request) (any, int, error) {
			conv, err := ctrl.Get(r.Context(), middlewares.PatientID(r.Context()), chi.URLParam(r, "id"))
			if err != nil {
				return nil, 0, err
			}
			return conv, http.StatusOK, nil
		}))

		// title is the only field a client may change
		gr.Put("/{id}", handleJSON(func(r *http.Request) (any, int, error) {
			var req types.UpdateTitleRequest
			if err := decodeJSON(r, &req); err != nil {
				return nil, 0, err
			}
			if err := ctrl.Rename(r.Context(), middlewares.PatientID(r.Context()), chi.URLParam(r, "id"), req.Title); err != nil {
				return nil, 0, err
			}
			return map[string]string{"status": "ok"}, http.StatusOK, nil
		}))

		gr.Delete("/{id}", handleJSON(func(r *http.Request) (any, int, error) {
			if err := ctrl.Delete(r.Context(), middlewares.PatientID(r.Context()), chi.URLParam(r, "id")); err != nil {
				return nil, 0, err
			}
			return map[string]string{"status": "deleted"}, http.StatusOK, nil
		}))

		gr.Get("/{id}/messages", handleJSON(func(r *http.Request) (any, int, error) {
			msgs, err := ctrl.Messages(r.Context(), middlewares.PatientID(r.Context()), chi.URLParam(r, "id"))
			if err != nil {
				return nil, 0, err
			}
			return msgs, http.StatusOK, nil
		}))

		gr.Post("/{id}/messages", handleJSON(func(r *http.Request) (any, int, error) {
			var req types.AppendMessageRequest
			if err := decodeJSON(r, &req); err != nil {
				return nil, 0, err
			}
			msg, err := ctrl.Append(r.Context(), middlewares.PatientID(r.Context()), chi.URLParam(r, "id"), req)
			if err != nil {
				return nil, 0, err
			}
			return msg, http.StatusCreated, nil
		}))

		gr.Post("/{id}/touch", handleJSON(func(r *http.Request) (any, int, error) {
			if err := ctrl.Touch(r.Context(), middlewares.PatientID(r.Context()), chi.URLParam(r, "id")); err != nil {
				return nil, 0, err
			}
			return map[string]string{"status": "ok"}, http.StatusOK, nil
		}))
	})
	return r
}

// ArchiveRoutes serves transcripts archived on delete.
func ArchiveRoutes(ctrl *controllers.ConversationController, patients middlewares.PatientLookup, cfg config.Config) chi.Router {
	r := chi.NewRouter()
	r.Use(middlewares.AuthMiddleware(cfg))
	r.Use(middlewares.PatientMiddleware(patients))
	r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
		data, err := ctrl.Archived(r.Context(), middlewares.PatientID(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})
	return r
}
