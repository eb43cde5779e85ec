package api

import (
	"encoding/json"
	"errors"
	"net/http"

	derrors "github.com/devmate/devmate/pkg/errors"
	"github.com/devmate/devmate/pkg/logging"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a coded error onto an HTTP status and a safe body. The
// internal cause goes to the log, never the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := derrors.GetCode(err)
	status := statusForCode(code)

	message := http.StatusText(status)
	var derr *derrors.Error
	if errors.As(err, &derr) && derr.UserMessage != "" {
		message = derr.UserMessage
	}

	if s.logger != nil {
		level := s.logger.Warn
		if status >= http.StatusInternalServerError {
			level = s.logger.Error
		}
		_ = level(logging.CategoryServer, "request_failed", err.Error(),
			map[string]any{"path": r.URL.Path, "code": string(code), "status": status})
	}

	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  string(code),
	})
}

func statusForCode(code derrors.ErrorCode) int {
	switch code {
	case derrors.ErrCodeUnauthenticated, derrors.ErrCodeTokenExpired,
		derrors.ErrCodeTokenRevoked, derrors.ErrCodeNoCredential:
		return http.StatusUnauthorized
	case derrors.ErrCodeNotFound, derrors.ErrCodeFileNotFound:
		return http.StatusNotFound
	case derrors.ErrCodeInvalidInput, derrors.ErrCodeInvalidPath,
		derrors.ErrCodePathConflict, derrors.ErrCodeMalformedAIPayload:
		return http.StatusBadRequest
	case derrors.ErrCodeRunFailed:
		return http.StatusConflict
	case derrors.ErrCodeStoreUnavailable, derrors.ErrCodeSandboxUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
