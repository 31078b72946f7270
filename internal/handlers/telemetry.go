package handlers

import (
	"net/http"

	"headset_monitor/internal/models"

	"github.com/gin-gonic/gin"
)

// @Summary      Ingest telemetry
// @Description  Accepts one event from the SDK bridge and applies it to the engine.
// @Tags         telemetry
// @Accept       json
// @Produce      json
// @Param        body  body      models.TelemetryEvent  true  "Event"
// @Success      202   {object}  map[string]string
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /api/v1/telemetry [post]
// @Security     BearerAuth
func (h *Handler) ingestTelemetry(c *gin.Context) {
	var ev models.TelemetryEvent
	if ok := h.bindJSONOrBadRequest(c, &ev, "telemetry_bad_body"); !ok {
		return
	}

	if err := h.services.Handle(c.Request.Context(), ev); err != nil {
		h.serviceError(c, "telemetry_rejected", err, "type", ev.Type, "device_id", ev.DeviceID)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
