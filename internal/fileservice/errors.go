package fileservice

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/schwartzmorn/kodiproxy-go/internal/apperror"
)

// writeError implements spec §7's propagation policy: every failure is
// caught here and rendered as a plain-text body carrying the message; no
// error is ever leaked as a panic. Storage-layer failures that are not a
// recognized taxonomy member are logged and mapped to the 500 catch-all.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		logger.Error("fileservice: unclassified storage error", slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	status := appErr.HTTPStatus()
	if status >= 500 {
		logger.Error("fileservice: handler error", slog.Int("status", status), slog.String("error", err.Error()))
	}

	http.Error(w, appErr.Error(), status)
}
