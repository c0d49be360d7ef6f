package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lorawan-server/lorawan-join-server/internal/models"
	"github.com/lorawan-server/lorawan-join-server/pkg/lorawan"
)

// deviceResponse is the API view of a device. Keys are reported by presence
// only.
type deviceResponse struct {
	*models.Device
	HasAppKey bool `json:"hasAppKey"`
	HasNwkKey bool `json:"hasNwkKey"`
}

func newDeviceResponse(d *models.Device) deviceResponse {
	return deviceResponse{
		Device:    d,
		HasAppKey: d.AppKey != nil,
		HasNwkKey: d.NwkKey != nil,
	}
}

// HandleListDevices lists devices
func (s *RESTServer) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	devices, total, err := s.store.ListDevices(r.Context(), limit, offset)
	if err != nil {
		s.respondStoreError(w, err, "device")
		return
	}

	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, newDeviceResponse(d))
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices": out,
		"total":   total,
	})
}

// HandleCreateDevice registers a device for OTAA.
func (s *RESTServer) HandleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DevEUI          string `json:"dev_eui" validate:"required,eui64"`
		JoinEUI         string `json:"join_eui" validate:"required,eui64"`
		Name            string `json:"name" validate:"max=100"`
		ProtocolVersion string `json:"protocol_version" validate:"required,lorawan"`
		AppKey          string `json:"app_key,omitempty" validate:"omitempty,aes128key"`
		NwkKey          string `json:"nwk_key,omitempty" validate:"omitempty,aes128key"`
	}

	if !s.decode(w, r, &req) {
		return
	}

	device := &models.Device{Name: req.Name}
	// formats are checked by the validator
	device.DevEUI.UnmarshalText([]byte(req.DevEUI))
	device.JoinEUI.UnmarshalText([]byte(req.JoinEUI))
	device.ProtocolVersion.UnmarshalText([]byte(req.ProtocolVersion))
	device.AppKey = parseKey(req.AppKey)
	device.NwkKey = parseKey(req.NwkKey)

	if device.ProtocolVersion == lorawan.Version10 && device.NwkKey != nil {
		s.respondError(w, http.StatusBadRequest, "nwk_key: only valid for LoRaWAN 1.1")
		return
	}

	if err := s.store.CreateDevice(r.Context(), device); err != nil {
		s.respondStoreError(w, err, "device")
		return
	}

	s.respondJSON(w, http.StatusCreated, newDeviceResponse(device))
}

// HandleGetDevice gets a device
func (s *RESTServer) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	devEUI, ok := s.devEUIParam(w, r)
	if !ok {
		return
	}

	device, err := s.store.GetDevice(r.Context(), devEUI)
	if err != nil {
		s.respondStoreError(w, err, "device")
		return
	}

	s.respondJSON(w, http.StatusOK, newDeviceResponse(device))
}

// HandleDeleteDevice deletes a device and its device config.
func (s *RESTServer) HandleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	devEUI, ok := s.devEUIParam(w, r)
	if !ok {
		return
	}

	if err := s.store.DeleteDevice(r.Context(), devEUI); err != nil {
		s.respondStoreError(w, err, "device")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleSetDeviceKeys replaces the root keys of a device.
func (s *RESTServer) HandleSetDeviceKeys(w http.ResponseWriter, r *http.Request) {
	devEUI, ok := s.devEUIParam(w, r)
	if !ok {
		return
	}

	var req struct {
		AppKey string `json:"app_key" validate:"required,aes128key"`
		NwkKey string `json:"nwk_key,omitempty" validate:"omitempty,aes128key"`
	}

	if !s.decode(w, r, &req) {
		return
	}

	keys := &models.DeviceKeys{
		AppKey: *parseKey(req.AppKey),
		NwkKey: parseKey(req.NwkKey),
	}

	if err := s.store.SetDeviceKeys(r.Context(), devEUI, keys); err != nil {
		s.respondStoreError(w, err, "device")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleGetDeviceConfig returns the radio configuration of the last join
// that assigned dev_addr.
func (s *RESTServer) HandleGetDeviceConfig(w http.ResponseWriter, r *http.Request) {
	var devAddr lorawan.DevAddr
	if err := devAddr.UnmarshalText([]byte(chi.URLParam(r, "dev_addr"))); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid dev_addr")
		return
	}

	conf, err := s.store.GetDeviceConfig(r.Context(), devAddr)
	if err != nil {
		s.respondStoreError(w, err, "device config")
		return
	}

	s.respondJSON(w, http.StatusOK, conf)
}

func (s *RESTServer) devEUIParam(w http.ResponseWriter, r *http.Request) (lorawan.EUI64, bool) {
	var devEUI lorawan.EUI64
	if err := devEUI.UnmarshalText([]byte(chi.URLParam(r, "dev_eui"))); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid dev_eui")
		return devEUI, false
	}
	return devEUI, true
}

func parseKey(s string) *lorawan.AES128Key {
	if s == "" {
		return nil
	}
	var k lorawan.AES128Key
	if err := k.UnmarshalText([]byte(s)); err != nil {
		return nil
	}
	return &k
}
