// Package respond writes the JSON envelopes shared by handlers and middleware.
package respond

import (
	"encoding/json"
	"net/http"

	"collab-jobs/core/apperror"

	"github.com/sirupsen/logrus"
)

// JSON writes v with the given status
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("Failed to encode response")
	}
}

// Error writes {error:{code,message}}. Untyped errors become 500 INTERNAL and
// their text is logged rather than returned.
func Error(w http.ResponseWriter, err error) {
	appErr, ok := apperror.As(err)
	if !ok {
		appErr = apperror.Internal(err)
	}
	message := appErr.Error()
	if appErr.Status >= http.StatusInternalServerError {
		logrus.WithError(err).Error("Request failed")
		message = "internal error"
	}
	JSON(w, appErr.Status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    appErr.Code,
			"message": message,
		},
	})
}

// OK writes {ok:true}
func OK(w http.ResponseWriter) {
	JSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}
