package handlers

import (
	"net/http"

	"headset_monitor/internal/service"

	"github.com/gin-gonic/gin"
)

// RegisterDeviceRequest is the body of POST /api/v1/devices.
type RegisterDeviceRequest struct {
	ID              string  `json:"id,omitempty"`
	SerialNumber    *string `json:"serial_number,omitempty"`
	Name            string  `json:"name,omitempty"`
	Model           string  `json:"model,omitempty"`
	Color           string  `json:"color,omitempty"`
	Number          *int    `json:"number,omitempty"`
	FirmwareVersion *string `json:"firmware_version,omitempty"`
}

// UpdateDeviceRequest is the body of PUT /api/v1/devices/:id. Absent fields are left unchanged.
type UpdateDeviceRequest struct {
	Name            *string `json:"name,omitempty"`
	Color           *string `json:"color,omitempty"`
	Number          *int    `json:"number,omitempty"`
	Model           *string `json:"model,omitempty"`
	FirmwareVersion *string `json:"firmware_version,omitempty"`
}

// @Summary      List registered devices
// @Tags         devices
// @Produce      json
// @Success      200  {array}  models.Device
// @Router       /api/v1/devices [get]
func (h *Handler) listDevices(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.Devices())
}

// @Summary      Get device
// @Tags         devices
// @Produce      json
// @Param        id   path      string  true  "Device ID"
// @Success      200  {object}  models.Device
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/devices/{id} [get]
func (h *Handler) getDevice(c *gin.Context) {
	id := c.Param("id")
	d, err := h.services.Device(id)
	if err != nil {
		h.serviceError(c, "device_get_failed", err, "device_id", id)
		return
	}
	c.JSON(http.StatusOK, d)
}

// @Summary      Register device
// @Description  Color and number are assigned automatically when omitted.
// @Tags         devices
// @Accept       json
// @Produce      json
// @Param        body  body      RegisterDeviceRequest  true  "Device"
// @Success      201   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /api/v1/devices [post]
// @Security     BearerAuth
func (h *Handler) registerDevice(c *gin.Context) {
	var req RegisterDeviceRequest
	if ok := h.bindJSONOrBadRequest(c, &req, "device_register_bad_body"); !ok {
		return
	}

	d, err := h.services.Register(c.Request.Context(), service.RegisterInput{
		ID:              req.ID,
		SerialNumber:    req.SerialNumber,
		Name:            req.Name,
		Model:           req.Model,
		Color:           req.Color,
		Number:          req.Number,
		FirmwareVersion: req.FirmwareVersion,
	})
	if h.mutationFailed(c, "device_register_failed", err, "device_id", req.ID) {
		return
	}
	c.JSON(http.StatusCreated, withWarning("device", d, err))
}

// @Summary      Update device
// @Tags         devices
// @Accept       json
// @Produce      json
// @Param        id    path      string               true  "Device ID"
// @Param        body  body      UpdateDeviceRequest  true  "Patch"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /api/v1/devices/{id} [put]
// @Security     BearerAuth
func (h *Handler) updateDevice(c *gin.Context) {
	id := c.Param("id")
	var req UpdateDeviceRequest
	if ok := h.bindJSONOrBadRequest(c, &req, "device_update_bad_body"); !ok {
		return
	}

	d, err := h.services.Update(c.Request.Context(), id, service.DevicePatch{
		Name:            req.Name,
		Color:           req.Color,
		Number:          req.Number,
		Model:           req.Model,
		FirmwareVersion: req.FirmwareVersion,
	})
	if h.mutationFailed(c, "device_update_failed", err, "device_id", id) {
		return
	}
	c.JSON(http.StatusOK, withWarning("device", d, err))
}

// @Summary      Remove device
// @Description  Closes any open session and frees the color.
// @Tags         devices
// @Produce      json
// @Param        id   path  string  true  "Device ID"
// @Success      204
// @Success      200  {object}  map[string]interface{}  "removed, persistence pending"
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/devices/{id} [delete]
// @Security     BearerAuth
func (h *Handler) removeDevice(c *gin.Context) {
	id := c.Param("id")
	d, err := h.services.Remove(c.Request.Context(), id)
	if h.mutationFailed(c, "device_remove_failed", err, "device_id", id) {
		return
	}
	if err != nil {
		c.JSON(http.StatusOK, withWarning("device", d, err))
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary      Device estimates
// @Tags         devices
// @Produce      json
// @Param        id   path      string  true  "Device ID"
// @Success      200  {object}  models.Estimates
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/devices/{id}/estimates [get]
func (h *Handler) getEstimates(c *gin.Context) {
	id := c.Param("id")
	est, err := h.services.Estimates(c.Request.Context(), id)
	if err != nil {
		h.serviceError(c, "device_estimates_failed", err, "device_id", id)
		return
	}
	c.JSON(http.StatusOK, est)
}
