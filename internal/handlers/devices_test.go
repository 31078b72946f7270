package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"headset_monitor/internal/models"
	"headset_monitor/internal/service"
)

func do(t *testing.T, s *service.Service, method, path, body string, hdr map[string][]string) *httptest.ResponseRecorder {
	t.Helper()
	r := newTestRouter(s)
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, vv := range hdr {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestDeviceHandlers_ListAndGet(t *testing.T) {
	reg := &mockRegistry{
		devices: []models.Device{{ID: "hs_1", Color: "blue", Number: 1}, {ID: "hs_2", Color: "red", Number: 2}},
		device:  models.Device{ID: "hs_1", Color: "blue", Number: 1, CreatedAt: testTime},
	}
	s := &service.Service{DeviceRegistry: reg}

	w := do(t, s, http.MethodGet, "/api/v1/devices", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status=%d body=%s", w.Code, w.Body.String())
	}
	var list []models.Device
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list) != 2 || list[1].Color != "red" {
		t.Fatalf("unexpected list: %+v", list)
	}

	w = do(t, s, http.MethodGet, "/api/v1/devices/hs_1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status=%d body=%s", w.Code, w.Body.String())
	}
	if reg.lastID != "hs_1" {
		t.Fatalf("Device got id %q", reg.lastID)
	}
}

func TestDeviceHandlers_GetUnknownIs404(t *testing.T) {
	reg := &mockRegistry{err: fmt.Errorf("%w: hs_x", service.ErrNotFound)}
	w := do(t, &service.Service{DeviceRegistry: reg}, http.MethodGet, "/api/v1/devices/hs_x", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestDeviceHandlers_Register(t *testing.T) {
	reg := &mockRegistry{device: models.Device{ID: "hs_new", Color: "green", Number: 3}}
	s := &service.Service{DeviceRegistry: reg}

	w := do(t, s, http.MethodPost, "/api/v1/devices", `{"serial_number":"SN1","color":"green","number":3}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if reg.lastRegister.Color != "green" || reg.lastRegister.SerialNumber == nil || *reg.lastRegister.SerialNumber != "SN1" {
		t.Fatalf("input not passed through: %+v", reg.lastRegister)
	}
	if reg.lastRegister.Number == nil || *reg.lastRegister.Number != 3 {
		t.Fatalf("number not passed through: %+v", reg.lastRegister)
	}

	var resp struct {
		Device  models.Device `json:"device"`
		Warning string        `json:"warning"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Device.ID != "hs_new" || resp.Warning != "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestDeviceHandlers_RegisterErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid color", service.ErrInvalidColor, http.StatusBadRequest},
		{"color in use", service.ErrColorInUse, http.StatusConflict},
		{"serial in use", service.ErrSerialInUse, http.StatusConflict},
		{"capacity", service.ErrNoColorAvailable, http.StatusConflict},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg := &mockRegistry{err: tc.err}
			w := do(t, &service.Service{DeviceRegistry: reg}, http.MethodPost, "/api/v1/devices", `{"color":"pink"}`, nil)
			if w.Code != tc.want {
				t.Fatalf("status=%d, want %d (body=%s)", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestDeviceHandlers_StorageFailureIsWarning(t *testing.T) {
	reg := &mockRegistry{
		device: models.Device{ID: "hs_1", Color: "blue", Number: 1},
		err:    &service.StorageError{Op: "upsert device", Err: errors.New("disk full")},
	}
	s := &service.Service{DeviceRegistry: reg}

	w := do(t, s, http.MethodPost, "/api/v1/devices", `{}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("register status=%d body=%s", w.Code, w.Body.String())
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["warning"] == nil {
		t.Fatalf("expected warning in body: %s", w.Body.String())
	}

	w = do(t, s, http.MethodDelete, "/api/v1/devices/hs_1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete with storage failure status=%d, want 200", w.Code)
	}
}

func TestDeviceHandlers_UpdateAndDelete(t *testing.T) {
	reg := &mockRegistry{device: models.Device{ID: "hs_1", Name: "Desk 4", Color: "blue", Number: 1}}
	s := &service.Service{DeviceRegistry: reg}

	w := do(t, s, http.MethodPut, "/api/v1/devices/hs_1", `{"name":"Desk 4"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", w.Code, w.Body.String())
	}
	if reg.lastID != "hs_1" || reg.lastPatch.Name == nil || *reg.lastPatch.Name != "Desk 4" {
		t.Fatalf("patch not passed through: id=%q patch=%+v", reg.lastID, reg.lastPatch)
	}
	if reg.lastPatch.Color != nil {
		t.Fatalf("absent color should stay nil")
	}

	w = do(t, s, http.MethodDelete, "/api/v1/devices/hs_1", "", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d body=%s", w.Code, w.Body.String())
	}
	if reg.removeCalled != 1 {
		t.Fatalf("expected Remove once, got %d", reg.removeCalled)
	}
}

func TestDeviceHandlers_MutationsRequireTokenWhenAuthEnabled(t *testing.T) {
	auth := &mockAuth{enabled: true, parseUser: "ops"}
	reg := &mockRegistry{device: models.Device{ID: "hs_1"}}
	s := &service.Service{DeviceRegistry: reg, Authorization: auth}

	w := do(t, s, http.MethodDelete, "/api/v1/devices/hs_1", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if reg.removeCalled != 0 {
		t.Fatalf("Remove must not run without a token")
	}

	w = do(t, s, http.MethodDelete, "/api/v1/devices/hs_1", "", authHeader("valid"))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 with token, got %d", w.Code)
	}

	// reads stay public
	w = do(t, s, http.MethodGet, "/api/v1/devices", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected public list, got %d", w.Code)
	}
}

func TestDeviceHandlers_Estimates(t *testing.T) {
	level := 40
	mon := &mockMonitoring{estimates: models.Estimates{BatteryLevel: &level}}
	w := do(t, &service.Service{Monitoring: mon}, http.MethodGet, "/api/v1/devices/hs_1/estimates", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var est models.Estimates
	_ = json.Unmarshal(w.Body.Bytes(), &est)
	if est.BatteryLevel == nil || *est.BatteryLevel != 40 {
		t.Fatalf("unexpected estimates: %+v", est)
	}

	mon.estErr = service.ErrNotFound
	w = do(t, &service.Service{Monitoring: mon}, http.MethodGet, "/api/v1/devices/hs_x/estimates", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
