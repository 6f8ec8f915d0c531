package api

import (
	"net/http"

	"github.com/ignite/ses-bulk-sender/internal/pkg/httputil"
	"github.com/ignite/ses-bulk-sender/internal/pkg/logger"
)

// respondSafeError logs the internal error and sends publicMsg to the
// client. Internal errors (SQL, file paths, provider responses) never reach
// API consumers.
func respondSafeError(w http.ResponseWriter, code int, internalErr error, publicMsg string) {
	if internalErr != nil {
		logger.Error("api: "+publicMsg, "status", code, "error", internalErr)
	}
	httputil.Error(w, code, publicMsg)
}
