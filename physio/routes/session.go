package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"physio/physio/config"
	"physio/physio/controllers"
	"physio/physio/middlewares"
	"physio/physio/services/session"
	"physio/physio/utils/logging"
	"physio/physio/utils/types"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const frameWriteTimeout = 10 * time.Second

// SessionRoutes hosts chat sessions over a websocket. The first text frame is a
// SessionHello; later frames drive the session and every state change is pushed
// back as a versioned "state" frame.
func SessionRoutes(ctrl *controllers.SessionController, patients middlewares.PatientLookup, cfg config.Config) chi.Router {
	r := chi.NewRouter()
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: cfg.WSOriginPatterns})
		if err != nil {
			return
		}
		defer conn.CloseNow()
		serveSession(r.Context(), conn, ctrl, patients, cfg)
	})
	return r
}

type frameWriter struct {
	ctx  context.Context
	conn *websocket.Conn
}

func (fw frameWriter) send(typ string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(types.ServerFrame{Type: typ, Payload: data})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(fw.ctx, frameWriteTimeout)
	defer cancel()
	return fw.conn.Write(ctx, websocket.MessageText, frame)
}

func (fw frameWriter) sendError(msg string) {
	fw.send(types.FrameError, types.ErrorResponse{Error: msg})
}

func serveSession(ctx context.Context, conn *websocket.Conn, ctrl *controllers.SessionController, patients middlewares.PatientLookup, cfg config.Config) {
	out := frameWriter{ctx: ctx, conn: conn}

	typ, data, err := conn.Read(ctx)
	if err != nil {
		return
	}
	if typ != websocket.MessageText {
		conn.Close(websocket.StatusUnsupportedData, "unsupported data")
		return
	}
	var hello types.SessionHello
	if err := json.Unmarshal(data, &hello); err != nil {
		out.send(types.FrameError, types.ErrorResponse{Error: "invalid json"})
		conn.Close(websocket.StatusPolicyViolation, "invalid json")
		return
	}
	userID, err := middlewares.ParseUserID(hello.Token, cfg.JWTSecret)
	if err != nil {
		out.send(types.FrameError, types.ErrorResponse{Error: "invalid token"})
		conn.Close(websocket.StatusPolicyViolation, "invalid token")
		return
	}
	patient, err := patients.GetPatientByUserID(ctx, userID)
	if err != nil {
		out.send(types.FrameError, types.ErrorResponse{Error: "patient profile not found"})
		conn.Close(websocket.StatusPolicyViolation, "no patient profile")
		return
	}
	patientID := patient.ID.String()
	logger := logging.AppLogger.With(zap.String("patient_id", patientID))

	sess, err := ctrl.NewSession(patientID, func(s session.State) {
		if err := out.send(types.FrameState, s); err != nil {
			logger.Debug("state frame not delivered", zap.Error(err))
		}
	})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "session unavailable")
		return
	}
	var turns sync.WaitGroup
	defer func() {
		sess.Close()
		turns.Wait()
	}()

	out.send(types.FrameState, sess.Snapshot())
	if hello.ConversationID != "" {
		// the outcome is already in the state frames
		sess.SelectConversation(ctx, hello.ConversationID)
	}

	// turns block until the reply is stored, so they run beside the read loop
	// to keep cancel frames flowing
	runTurn := func(fn func(context.Context) error) {
		turns.Add(1)
		go func() {
			defer turns.Done()
			if err := fn(ctx); err != nil && !reportedInState(err) {
				out.sendError(sess.UserMessage(err))
			}
		}()
	}
	sendList := func() {
		list, err := sess.ListConversations(ctx)
		if err != nil {
			out.sendError(sess.UserMessage(err))
			return
		}
		out.send(types.FrameConversations, list)
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var f types.ClientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			out.send(types.FrameError, types.ErrorResponse{Error: "invalid json"})
			continue
		}
		switch f.Type {
		case types.FrameSubmit:
			content := f.Content
			runTurn(func(ctx context.Context) error { return sess.Submit(ctx, content) })
		case types.FrameRetry:
			runTurn(sess.Retry)
		case types.FrameDismiss:
			sess.Dismiss()
		case types.FrameCancel:
			sess.Cancel()
		case types.FrameSelect:
			sess.SelectConversation(ctx, f.ConversationID)
		case types.FrameNew:
			sess.NewConversation(ctx)
		case types.FramePrompt:
			sess.SetCustomPrompt(f.Content)
		case types.FrameList:
			sendList()
		case types.FrameDelete:
			if err := sess.DeleteConversation(ctx, f.ConversationID); err != nil {
				out.sendError(sess.UserMessage(err))
				continue
			}
			sendList()
		case types.FrameRename:
			if err := sess.RenameConversation(ctx, f.ConversationID, f.Content); err != nil {
				out.sendError(sess.UserMessage(err))
				continue
			}
			sendList()
		default:
			out.send(types.FrameError, types.ErrorResponse{Error: "unknown frame type " + f.Type})
		}
	}
}

// reportedInState tells whether a turn error already reached the client as an
// errored state frame.
func reportedInState(err error) bool {
	var se *session.SessionError
	return errors.As(err, &se) || errors.Is(err, session.ErrCancelled)
}
