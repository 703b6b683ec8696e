package api

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	defaultAnalyticsDays = 7
	maxAnalyticsDays     = 90
)

// handleAnalytics serves GET /v1/analytics?days=N.
func (d *Dependencies) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if d.Chain.Analytics == nil {
		writeJSON(w, http.StatusNotImplemented, ErrorResp{Detail: "Analytics requires the clickhouse driver"})
		return
	}

	days := defaultAnalyticsDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxAnalyticsDays {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "days must be between 1 and 90", Field: "days"})
			return
		}
		days = n
	}

	since := time.Now().AddDate(0, 0, -days)
	result, err := d.Chain.Analytics.Analytics(r.Context(), since)
	if err != nil {
		d.Logger.Error("analytics query failed", zap.Int("days", days), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
