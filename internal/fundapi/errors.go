// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package fundapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cardinalhq/fundsnap/internal/fundcache"
	"github.com/cardinalhq/fundsnap/internal/fundquery"
)

type APIErrorCode string

const (
	ErrInvalidRequest   APIErrorCode = "INVALID_REQUEST"
	ErrMethodNotAllowed APIErrorCode = "METHOD_NOT_ALLOWED"
	ErrInternalError    APIErrorCode = "INTERNAL_ERROR"
	ErrClientClosed     APIErrorCode = "CLIENT_CLOSED"
)

type APIError struct {
	Status  int          `json:"status"`
	Code    APIErrorCode `json:"code"`
	Message string       `json:"message"`
}

func writeAPIError(w http.ResponseWriter, status int, code APIErrorCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIError{
		Status:  status,
		Code:    code,
		Message: msg,
	})
}

// Non-standard but used by many proxies for client disconnects.
const statusClientClosedRequest = 499

// writeQueryError maps a query service error onto a response. Validation
// messages are safe to echo back; everything else is logged and replaced
// with a generic message.
func writeQueryError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var ve *fundquery.ValidationError
	if errors.As(err, &ve) {
		writeAPIError(w, http.StatusBadRequest, ErrInvalidRequest, ve.Error())
		return
	}

	logger := loggerFrom(r.Context()).With(slog.String("operation", op), slog.Any("error", err))

	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		logger.Debug("Client went away before the query finished")
		writeAPIError(w, statusClientClosedRequest, ErrClientClosed, "client closed request")
		return
	}

	var be *fundcache.BootstrapError
	if errors.As(err, &be) {
		logger.Error("Fund dataset unavailable", slog.String("stage", be.Stage))
		writeAPIError(w, http.StatusInternalServerError, ErrInternalError, "fund dataset is unavailable")
		return
	}

	logger.Error("Fund query failed")
	writeAPIError(w, http.StatusInternalServerError, ErrInternalError, "internal error")
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeAPIError(w, http.StatusMethodNotAllowed, ErrMethodNotAllowed, "method not allowed")
}
