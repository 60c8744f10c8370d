package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ruslano69/whbridge/pkg/connection"
	"github.com/ruslano69/whbridge/pkg/csvinfer"
	"github.com/ruslano69/whbridge/pkg/errs"
	"github.com/ruslano69/whbridge/pkg/plan"
)

// StatusClientClosedRequest reports a cancelled operation.
const StatusClientClosedRequest = 499

type errorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Field  string `json:"field,omitempty"`
	Check  string `json:"check,omitempty"`
	Name   string `json:"name,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column string `json:"column,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeError maps an engine error to a status and a body carrying the
// offending identifier.
func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	body := errorResponse{Error: err.Error(), Kind: kind.String()}

	var pe *connection.ProfileError
	var ve *plan.ValidationError
	var ce *csvinfer.ParseError
	switch {
	case errors.As(err, &pe):
		body.Field = pe.Field
	case errors.As(err, &ve):
		body.Check, body.Name = ve.Check, ve.Name
	case errors.As(err, &ce):
		body.Line, body.Column = ce.Line, ce.Column
	}
	writeJSON(w, statusFor(kind), body)
}

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindInvalidProfile, errs.KindValidation, errs.KindParse, errs.KindCoercion:
		return http.StatusBadRequest
	case errs.KindNoSession:
		return http.StatusConflict
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConnectFailure:
		return http.StatusBadGateway
	case errs.KindCancelled:
		return StatusClientClosedRequest
	}
	return http.StatusInternalServerError
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.E(errs.KindValidation, "decode", "body", err)
	}
	return nil
}
