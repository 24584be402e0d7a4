package handlers

import (
	"net/http"
	"time"
)

// Models lists the model identifiers accepted by ChatCompletions.
func (a *App) Models(w http.ResponseWriter, r *http.Request) {
	created := time.Now().Unix()
	ids := []string{"flow-chat", "flow-image", "flow-video"}
	data := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		data = append(data, map[string]any{
			"id":       id,
			"object":   "model",
			"created":  created,
			"owned_by": "flowgate",
		})
	}
	a.json(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}
