package handlers

import (
	"encoding/json"
	"net/http"

	"flowgate/internal/infra"
	"flowgate/internal/orchestrator"
	"flowgate/internal/relocate"
	"flowgate/internal/store"
)

// App bundles the handler dependencies.
type App struct {
	Cfg    *infra.Config
	Log    infra.Logger
	Store  store.Store
	Orc    *orchestrator.Orchestrator
	Reloc  *relocate.Relocator
	Broker *orchestrator.Broker
}

// NewApp builds the handler container.
func NewApp(cfg *infra.Config, log infra.Logger, st store.Store, orc *orchestrator.Orchestrator, reloc *relocate.Relocator) *App {
	return &App{
		Cfg:    cfg,
		Log:    log,
		Store:  st,
		Orc:    orc,
		Reloc:  reloc,
		Broker: orc.Broker(),
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
