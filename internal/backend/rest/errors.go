package rest

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/wolfeidau/leaguesync/internal/backend"
	"github.com/wolfeidau/leaguesync/internal/models"
)

// PostgREST error codes with special handling.
const (
	codeNoRows       = "PGRST116"
	codeJWTExpired   = "PGRST301"
	codeJWTInvalid   = "PGRST302"
	codeUnknownTable = "PGRST205"
	codeUndefinedRel = "42P01"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// mapResponseError converts a failure response into an error wrapping one of
// the backend sentinels. A "no rows" response is an empty result, not an error.
func mapResponseError(resp *http.Response) (backend.Result, error) {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Message == "" {
		body.Message = strings.TrimSpace(string(data))
		if body.Message == "" {
			body.Message = http.StatusText(resp.StatusCode)
		}
	}

	if body.Code == codeNoRows {
		return backend.Result{Rows: []models.Row{}}, nil
	}

	qe := &backend.QueryError{Code: body.Code, Message: body.Message}

	switch {
	case body.Code == codeJWTExpired || (resp.StatusCode == http.StatusUnauthorized && strings.Contains(strings.ToLower(body.Message), "expired")):
		qe.Err = backend.ErrTokenExpired
	case body.Code == codeJWTInvalid || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		qe.Err = backend.ErrUnauthorized
	case body.Code == codeUnknownTable || body.Code == codeUndefinedRel:
		qe.Err = backend.ErrUnknownTable
	case resp.StatusCode >= 500:
		qe.Err = backend.ErrUnavailable
	}

	return backend.Result{}, qe
}
