package middlewares

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"physio/physio/config"
	"physio/physio/sources/psql/models"
	"physio/physio/utils/types"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	PatientIDKey contextKey = "patient_id"
)

var ErrInvalidToken = errors.New("invalid token")

// ParseUserID validates an HMAC-signed token and returns its user_id claim.
func ParseUserID(tokenStr, secret string) (int, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, ErrInvalidToken
	}
	userID, ok := claims["user_id"].(float64)
	if !ok {
		return 0, ErrInvalidToken
	}
	return int(userID), nil
}

func AuthMiddleware(cfg config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			parts := strings.Split(auth, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			userID, err := ParseUserID(parts[1], cfg.JWTSecret)
			if err != nil {
				writeError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type PatientLookup interface {
	GetPatientByUserID(ctx context.Context, userID int) (*models.PatientProfile, error)
}

// PatientMiddleware resolves the authenticated user's patient profile. It must
// run after AuthMiddleware.
func PatientMiddleware(patients PatientLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := r.Context().Value(UserIDKey).(int)
			if !ok {
				writeError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			p, err := patients.GetPatientByUserID(r.Context(), userID)
			if err != nil {
				writeError(w, "patient profile not found", http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), PatientIDKey, p.ID.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func UserID(ctx context.Context) int {
	id, _ := ctx.Value(UserIDKey).(int)
	return id
}

func PatientID(ctx context.Context) string {
	id, _ := ctx.Value(PatientIDKey).(string)
	return id
}

func writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg})
}
