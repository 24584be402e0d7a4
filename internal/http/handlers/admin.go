package handlers

import (
	"net/http"
)

// PurgeCache removes cached artifacts older than the configured TTL from the
// durable backend. Invoked on demand rather than by a background task.
func (a *App) PurgeCache(w http.ResponseWriter, r *http.Request) {
	removed, err := a.Reloc.PurgeExpired(r.Context(), int(a.Cfg.CacheTimeout.Seconds()))
	if err != nil {
		a.Log.Error().Err(err).Msg("admin: cache purge failed")
		a.error(w, http.StatusInternalServerError, "internal", "purge failed")
		return
	}
	a.Log.Info().Int("removed", removed).Msg("admin: cache purge completed")
	a.json(w, http.StatusOK, map[string]any{"removed": removed})
}
