package controllers

import (
	"errors"
	"net/http"

	"physio/physio/sources/psql/dao"
	"physio/physio/sources/storage"
	"physio/physio/types"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUpstream        = errors.New("completion provider unavailable")
	ErrArchiveDisabled = errors.New("transcript archive is not configured")
)

// StatusFor maps controller errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrForbidden),
		errors.Is(err, dao.ErrNoPatientProfile),
		errors.Is(err, storage.ErrTranscriptNotFound),
		errors.Is(err, ErrArchiveDisabled):
		return http.StatusNotFound
	case errors.Is(err, types.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
