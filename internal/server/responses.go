package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tabsynth/pkg/constants"
	"github.com/inferloop/tabsynth/pkg/errors"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Warn("Failed to encode response")
	}
}

// writeError renders err as an ErrorResponse. Errors outside the AppError
// taxonomy become internal errors.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := errors.AsAppError(err)
	if !ok {
		appErr = errors.WrapError(err, errors.ErrorTypeInternal, "INTERNAL_ERROR", err.Error())
	}

	status := errors.HTTPStatus(appErr)
	if errors.IsStorageNotFound(appErr) {
		status = http.StatusNotFound
	}

	if status >= http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			"request_id": requestID(r),
			"code":       appErr.Code,
			"error":      err.Error(),
		}).Error("Request failed")
	}

	s.writeJSON(w, status, errors.ErrorResponse{
		Error:     appErr,
		RequestID: requestID(r),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Path:      r.URL.Path,
	})
}
