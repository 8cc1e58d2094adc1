package api

import (
	"net/http"

	"github.com/bikeshrana/pi5-trading-engine/internal/apperr"
	"github.com/bikeshrana/pi5-trading-engine/internal/instance"
	"github.com/bikeshrana/pi5-trading-engine/internal/store"
)

func (h *handlers) listInstances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Instances.GetAllInstances())
}

func (h *handlers) createInstance(w http.ResponseWriter, r *http.Request) {
	var cfg store.InstanceConfig
	if err := decodeBody(r, &cfg); err != nil {
		writeError(w, err)
		return
	}
	id, err := h.deps.Instances.CreateInstance(cfg, true)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *handlers) getInstance(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	for _, cfg := range h.deps.Instances.GetAllInstances() {
		if cfg.ID == id {
			writeJSON(w, http.StatusOK, cfg)
			return
		}
	}
	writeError(w, apperr.NotFoundf("instance %s not found", id))
}

func (h *handlers) updateInstance(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	var patch instance.Patch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	if err := h.deps.Instances.UpdateInstance(id, patch); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *handlers) deleteInstance(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.deps.Instances.DeleteInstance(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) startInstance(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.deps.Instances.StartInstance(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (h *handlers) stopInstance(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.deps.Instances.StopInstance(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *handlers) pauseInstance(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.deps.Instances.PauseInstance(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (h *handlers) resumeInstance(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.deps.Instances.ResumeInstance(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (h *handlers) getInstanceState(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	state, err := h.deps.Instances.GetInstanceState(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// getInstanceChartData returns the bars and computed indicator series
// backing the dashboard's chart view (spec §6).
func (h *handlers) getInstanceChartData(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	rt, err := h.deps.Instances.GetRuntime(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rt.ChartData())
}

func (h *handlers) getInstanceLogs(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	rt, err := h.deps.Instances.GetRuntime(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rt.Logs())
}

func (h *handlers) getInstanceTrades(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	rt, err := h.deps.Instances.GetRuntime(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rt.Trades())
}
