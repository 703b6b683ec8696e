package api

import (
	"net/http"
)

func (d *Dependencies) status() StatusResp {
	st := StatusResp{Status: d.Chain.Status()}
	if d.Chain.Failover != nil {
		st.UsingFallback = d.Chain.Failover.IsUsingFallback()
	}
	return st
}

func (d *Dependencies) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, d.status())
}

func (d *Dependencies) handleRecover(w http.ResponseWriter, r *http.Request) {
	if d.Chain.Failover == nil {
		writeJSON(w, http.StatusConflict, ErrorResp{Detail: "Failover is not enabled"})
		return
	}
	recovered := d.Chain.Failover.AttemptRecovery(r.Context())
	writeJSON(w, http.StatusOK, RecoverResp{Recovered: recovered, Status: d.status()})
}
