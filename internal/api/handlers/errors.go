package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/markdave123-py/dossier/internal/core"
	"github.com/markdave123-py/dossier/internal/models"
	"github.com/ory/herodot"
	"github.com/rs/zerolog/log"
)

var errBadGateway = herodot.DefaultError{
	CodeField:   http.StatusBadGateway,
	StatusField: http.StatusText(http.StatusBadGateway),
	ErrorField:  "A dependency needed to answer the request failed",
}

// httpError maps a service error onto the JSON error the client sees.
func httpError(err error) *herodot.DefaultError {
	switch {
	case errors.Is(err, core.ErrQueryProcessing):
		return errBadGateway.WithReason(err.Error())
	case errors.Is(err, core.ErrNotFound):
		return herodot.ErrNotFound.WithReason(err.Error())
	case errors.Is(err, core.ErrInvalidInput):
		return herodot.ErrBadRequest.WithReason(err.Error())
	case errors.Is(err, core.ErrAlreadyClaimed), errors.Is(err, core.ErrQueueFull):
		return herodot.ErrConflict.WithReason(err.Error())
	default:
		return herodot.ErrInternalServerError.WithReason("The request could not be completed")
	}
}

func writeError(writer *herodot.JSONWriter, w http.ResponseWriter, r *http.Request, err error) {
	he := httpError(err)
	if he.CodeField >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Int("status", he.CodeField).Msg("request failed")
	}
	writer.WriteError(w, r, he)
}

// pageRequest reads the optional page and size query parameters.
func pageRequest(r *http.Request) (models.PageRequest, error) {
	var p models.PageRequest
	var err error
	if v := r.URL.Query().Get("page"); v != "" {
		if p.Page, err = strconv.Atoi(v); err != nil || p.Page < 0 {
			return p, fmt.Errorf("%w: page must be a non-negative integer", core.ErrInvalidInput)
		}
	}
	if v := r.URL.Query().Get("size"); v != "" {
		if p.Size, err = strconv.Atoi(v); err != nil || p.Size <= 0 {
			return p, fmt.Errorf("%w: size must be a positive integer", core.ErrInvalidInput)
		}
	}
	return p.Normalize(), nil
}
