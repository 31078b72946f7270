package service

import (
	"fmt"

	"headset_monitor/internal/models"
)

// palette is the fixed, ordered set of identity colors. Its size bounds the registry.
var palette = []models.ColorInfo{
	{Key: "blue", Name: "Blue", Hex: "#3B82F6", RGB: "59, 130, 246"},
	{Key: "yellow", Name: "Yellow", Hex: "#EAB308", RGB: "234, 179, 8"},
	{Key: "green", Name: "Green", Hex: "#22C55E", RGB: "34, 197, 94"},
	{Key: "red", Name: "Red", Hex: "#EF4444", RGB: "239, 68, 68"},
	{Key: "white", Name: "White", Hex: "#F8FAFC", RGB: "248, 250, 252"},
}

// Palette returns a copy of the identity color table.
func Palette() []models.ColorInfo {
	out := make([]models.ColorInfo, len(palette))
	copy(out, palette)
	return out
}

// MaxDevices is the registry capacity.
func MaxDevices() int { return len(palette) }

// ValidateColor fails with ErrInvalidColor when color is not part of the palette.
func ValidateColor(color string) error {
	for _, c := range palette {
		if c.Key == color {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidColor, color)
}

// ColorPolicy answers color questions against a registry snapshot.
type ColorPolicy struct {
	owners map[string]string // color -> device id
}

func NewColorPolicy(devices []models.Device) ColorPolicy {
	owners := make(map[string]string, len(devices))
	for _, d := range devices {
		owners[d.Color] = d.ID
	}
	return ColorPolicy{owners: owners}
}

// IsColorInUse reports whether color is owned and by which device.
func (p ColorPolicy) IsColorInUse(color string) (bool, string) {
	id, ok := p.owners[color]
	return ok, id
}

// NextAvailableColor returns the first palette color without an owner.
func (p ColorPolicy) NextAvailableColor() (string, error) {
	for _, c := range palette {
		if _, taken := p.owners[c.Key]; !taken {
			return c.Key, nil
		}
	}
	return "", ErrNoColorAvailable
}

// check validates color for device id: it must exist and not be owned by another device.
func (p ColorPolicy) check(color, id string) error {
	if err := ValidateColor(color); err != nil {
		return err
	}
	if inUse, owner := p.IsColorInUse(color); inUse && owner != id {
		return fmt.Errorf("%w: %q is assigned to %s", ErrColorInUse, color, owner)
	}
	return nil
}

// Colors returns the palette annotated with current owners.
func (p ColorPolicy) Colors() []models.ColorInfo {
	out := Palette()
	for i := range out {
		if id, ok := p.owners[out[i].Key]; ok {
			owner := id
			out[i].OwnerID = &owner
		}
	}
	return out
}
