// Package api implements the REST, multipart-streaming and push-connection
// surface described in spec §6. Response bodies are bit-exact: success
// responses are the resource itself (no envelope), errors are
// {"detail": "..."} with conventional status codes, per §7.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/crowdwatch/crowdwatch/internal/apierr"
)

// detailBody is the error body shape mandated by §7.
type detailBody struct {
	Detail string `json:"detail"`
}

// WriteJSON writes v as the response body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteDetail writes a {"detail": message} error body.
func WriteDetail(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, detailBody{Detail: message})
}

// WriteError maps err to a status code and {"detail"} body. Validation
// errors become 422 (or 400 for malformed requests, chosen by the
// caller before err ever reaches here), Transient/Corrupt/Fatal map to
// 500 unless the caller has already distinguished 404/409 explicitly.
func WriteError(w http.ResponseWriter, err error) {
	var multi apierr.MultiError
	if errors.As(err, &multi) {
		WriteDetail(w, http.StatusUnprocessableEntity, multi.Error())
		return
	}

	switch apierr.KindOf(err) {
	case apierr.Validation:
		WriteDetail(w, http.StatusUnprocessableEntity, err.Error())
	case apierr.Transient, apierr.Corrupt, apierr.Fatal:
		WriteDetail(w, http.StatusInternalServerError, err.Error())
	default:
		WriteDetail(w, http.StatusInternalServerError, err.Error())
	}
}

func BadRequest(w http.ResponseWriter, message string)   { WriteDetail(w, http.StatusBadRequest, message) }
func NotFound(w http.ResponseWriter, message string)     { WriteDetail(w, http.StatusNotFound, message) }
func Conflict(w http.ResponseWriter, message string)     { WriteDetail(w, http.StatusConflict, message) }
func Unprocessable(w http.ResponseWriter, message string) {
	WriteDetail(w, http.StatusUnprocessableEntity, message)
}
func InternalError(w http.ResponseWriter, message string) {
	WriteDetail(w, http.StatusInternalServerError, message)
}

func OK(w http.ResponseWriter, data interface{})       { WriteJSON(w, http.StatusOK, data) }
func Created(w http.ResponseWriter, data interface{})  { WriteJSON(w, http.StatusCreated, data) }
func NoContent(w http.ResponseWriter)                  { w.WriteHeader(http.StatusNoContent) }
