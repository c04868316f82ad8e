package resolve

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// httpError sends a JSON error response. The clientMsg is returned to the
// caller; optional internalDetails are logged server-side but never sent,
// so storage keys and codec errors cannot leak.
func httpError(w http.ResponseWriter, status int, clientMsg string, internalDetails ...string) {
	if len(internalDetails) > 0 {
		log.Error().
			Int("status", status).
			Str("clientMsg", clientMsg).
			Strs("internalDetails", internalDetails).
			Msg("HTTP error with internal details")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": clientMsg})
}
