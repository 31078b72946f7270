package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// @Summary      Health check
// @Tags         monitoring
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /api/v1/health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// @Summary      Server info
// @Tags         monitoring
// @Produce      json
// @Success      200  {object}  models.ServerInfo
// @Router       /api/v1/server-info [get]
func (h *Handler) serverInfo(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.ServerInfo())
}

// @Summary      System state
// @Description  Registered and live devices, dongles and the color palette.
// @Tags         monitoring
// @Produce      json
// @Success      200  {object}  models.SystemState
// @Router       /api/v1/state [get]
func (h *Handler) systemState(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.SystemState())
}

// @Summary      Live devices
// @Tags         monitoring
// @Produce      json
// @Success      200  {array}  models.LiveDevice
// @Router       /api/v1/active [get]
func (h *Handler) listActive(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.Active())
}

// @Summary      Connected dongles
// @Tags         monitoring
// @Produce      json
// @Success      200  {array}  models.Dongle
// @Router       /api/v1/dongles [get]
func (h *Handler) listDongles(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.Dongles())
}

// @Summary      Color palette
// @Tags         monitoring
// @Produce      json
// @Success      200  {array}  models.ColorInfo
// @Router       /api/v1/colors [get]
func (h *Handler) listColors(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.Colors())
}
