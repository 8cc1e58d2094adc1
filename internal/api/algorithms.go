package api

import (
	"net/http"
	"time"

	"github.com/bikeshrana/pi5-trading-engine/internal/algorithm"
	"github.com/bikeshrana/pi5-trading-engine/internal/apperr"
)

func (h *handlers) listAlgorithms(w http.ResponseWriter, r *http.Request) {
	algs, err := h.deps.Store.ListAlgorithms()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, algs)
}

func (h *handlers) createAlgorithm(w http.ResponseWriter, r *http.Request) {
	var alg algorithm.Algorithm
	if err := decodeBody(r, &alg); err != nil {
		writeError(w, err)
		return
	}
	if alg.CreatedTime.IsZero() {
		alg.CreatedTime = time.Now().UTC()
	}
	alg.LastModifiedTime = time.Now().UTC()
	if err := alg.Validate(); err != nil {
		writeError(w, err)
		return
	}
	if err := h.deps.Store.SaveAlgorithm(alg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, alg)
}

func (h *handlers) deleteAlgorithm(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "name")
	for _, cfg := range h.deps.Instances.GetAllInstances() {
		if cfg.AlgorithmName == name {
			writeError(w, apperr.Conflictf("algorithm %s is in use by instance %s", name, cfg.ID))
			return
		}
	}
	if err := h.deps.Store.DeleteAlgorithm(name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
