package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	defaultHistoryHours = 24
	defaultSessionLimit = 50
)

// @Summary      Statistics
// @Tags         stats
// @Produce      json
// @Success      200  {object}  models.Statistics
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/stats [get]
func (h *Handler) getStatistics(c *gin.Context) {
	st, err := h.services.Statistics(c.Request.Context())
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errReadFailed, "stats_read_failed", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Battery history
// @Tags         stats
// @Produce      json
// @Param        hours      query     number  false  "Look-back window in hours"  default(24)
// @Param        device_id  query     string  false  "Restrict to one device"
// @Success      200        {array}   models.HistoryPoint
// @Failure      400        {object}  map[string]string
// @Failure      500        {object}  map[string]string
// @Router       /api/v1/stats/battery-history [get]
func (h *Handler) batteryHistory(c *gin.Context) {
	hours, err := strconv.ParseFloat(c.DefaultQuery("hours", strconv.Itoa(defaultHistoryHours)), 64)
	if err != nil || hours <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be a positive number"})
		return
	}
	deviceID := c.Query("device_id")

	points, err := h.services.BatteryHistory(c.Request.Context(), hours, deviceID)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errReadFailed, "history_read_failed", err, "device_id", deviceID)
		return
	}
	c.JSON(http.StatusOK, points)
}

// @Summary      Charging history
// @Tags         stats
// @Produce      json
// @Param        limit      query     int     false  "Maximum sessions"  default(50)
// @Param        device_id  query     string  false  "Restrict to one device"
// @Success      200        {array}   models.Session
// @Failure      400        {object}  map[string]string
// @Failure      500        {object}  map[string]string
// @Router       /api/v1/stats/charging-history [get]
func (h *Handler) chargingHistory(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	deviceID := c.Query("device_id")

	sessions, err := h.services.ChargingHistory(c.Request.Context(), limit, deviceID)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errReadFailed, "charging_history_read_failed", err, "device_id", deviceID)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// @Summary      Usage history
// @Tags         stats
// @Produce      json
// @Param        limit      query     int     false  "Maximum sessions"  default(50)
// @Param        device_id  query     string  false  "Restrict to one device"
// @Success      200        {array}   models.Session
// @Failure      400        {object}  map[string]string
// @Failure      500        {object}  map[string]string
// @Router       /api/v1/stats/usage-history [get]
func (h *Handler) usageHistory(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	deviceID := c.Query("device_id")

	sessions, err := h.services.UsageHistory(c.Request.Context(), limit, deviceID)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errReadFailed, "usage_history_read_failed", err, "device_id", deviceID)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func parseLimit(c *gin.Context) (int, bool) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultSessionLimit)))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	return limit, true
}
