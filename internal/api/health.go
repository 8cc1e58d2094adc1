package api

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Engine    struct {
		InstanceCount    int `json:"instanceCount"`
		RunningInstances int `json:"runningInstances"`
	} `json:"engine"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	var resp healthResponse
	resp.Status = "ok"
	resp.Timestamp = time.Now().UTC()

	states := h.deps.Instances.GetAllInstanceStates()
	resp.Engine.InstanceCount = len(states)
	for _, st := range states {
		if st.Status == "RUNNING" {
			resp.Engine.RunningInstances++
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
