package routes

import (
	"errors"
	"io"
	"net/http"

	"physio/physio/config"
	"physio/physio/controllers"
	"physio/physio/middlewares"
	"physio/physio/utils/types"

	"github.com/go-chi/chi/v5"
)

// ChatRoutes exposes the completion gateway. Replies stream as raw UTF-8 text;
// an error before the first byte is a JSON {"error"} answer, a failure after it
// aborts the connection.
func ChatRoutes(ctrl *controllers.CompletionController, patients middlewares.PatientLookup, cfg config.Config) chi.Router {
	r := chi.NewRouter()
	r.Group(func(gr chi.Router) {
		gr.Use(middlewares.AuthMiddleware(cfg))
		gr.Use(middlewares.PatientMiddleware(patients))

		gr.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var req types.CompletionRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, r, err)
				return
			}
			body, err := ctrl.Open(r.Context(), middlewares.PatientID(r.Context()), req)
			if err != nil {
				writeError(w, r, err)
				return
			}
			defer body.Close()
			streamBody(w, r, body, req.ConversationID)
		})
	})
	return r
}

func streamBody(w http.ResponseWriter, r *http.Request, body io.Reader, conversationID string) {
	flusher, _ := w.(http.Flusher)
	started := false
	start := func() {
		if started {
			return
		}
		started = true
		h := w.Header()
		h.Set("Content-Type", "text/plain; charset=utf-8")
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Content-Type-Options", "nosniff")
		if conversationID != "" {
			h.Set("X-Conversation-Id", conversationID)
		}
		w.WriteHeader(http.StatusOK)
	}

	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			start()
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			start()
			return
		}
		if !started {
			writeError(w, r, err)
			return
		}
		// the status line is gone; only a broken connection tells the client
		panic(http.ErrAbortHandler)
	}
}
