package api

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lorawan-server/lorawan-server-pro/internal/models"
	"github.com/lorawan-server/lorawan-server-pro/internal/storage"
	"github.com/lorawan-server/lorawan-server-pro/pkg/lorawan"
)

// HandleListDevices lists devices belonging to an application.
func (s *RESTServer) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	applicationID := r.URL.Query().Get("application_id")
	if applicationID == "" {
		s.respondError(w, http.StatusBadRequest, "application_id is required")
		return
	}

	appID, err := uuid.Parse(applicationID)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid application_id")
		return
	}

	if err := s.authorizeApplicationTenant(r, appID); err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "application not found")
			return
		}
		s.respondError(w, http.StatusForbidden, err.Error())
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	devices, total, err := s.store.ListDevices(ctx, appID, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
		"total":   total,
	})
}

// HandleCreateDevice creates a device. A non-empty app_key provisions it
// for OTAA; dev_addr/app_s_key/nwk_s_key provision it already-activated
// (ABP) by also creating its Link.
func (s *RESTServer) HandleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DevEUI          string    `json:"dev_eui" validate:"required,len=16"`
		Name            string    `json:"name" validate:"required"`
		Description     string    `json:"description"`
		ApplicationID   uuid.UUID `json:"application_id" validate:"required"`
		DeviceProfileID uuid.UUID `json:"device_profile_id" validate:"required"`
		Region          string    `json:"region"`

		// OTAA
		AppKey string `json:"app_key,omitempty" validate:"omitempty,len=32"`

		// ABP
		DevAddr string `json:"dev_addr,omitempty" validate:"omitempty,len=8"`
		AppSKey string `json:"app_s_key,omitempty" validate:"omitempty,len=32"`
		NwkSKey string `json:"nwk_s_key,omitempty" validate:"omitempty,len=32"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	devEUI, err := parseEUI64(req.DevEUI)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid DevEUI")
		return
	}

	app, err := s.store.GetApplication(r.Context(), req.ApplicationID)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "application not found")
		return
	}

	device := &models.Device{
		DevEUI: devEUI,
		Name:   req.Name,
		TenantModel: models.TenantModel{
			TenantID: app.TenantID,
		},
		Description:     req.Description,
		Region:          req.Region,
		ApplicationID:   req.ApplicationID,
		DeviceProfileID: req.DeviceProfileID,
		CanJoin:         req.AppKey != "",
	}

	if req.AppKey != "" {
		appKey, err := parseAES128Key(req.AppKey)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid app_key")
			return
		}
		device.AppKey = appKey
	}

	var link *models.Link
	if req.DevAddr != "" {
		devAddr, err := parseDevAddr(req.DevAddr)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid DevAddr")
			return
		}
		appSKey, err := parseAES128Key(req.AppSKey)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid app_s_key")
			return
		}
		nwkSKey, err := parseAES128Key(req.NwkSKey)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid nwk_s_key")
			return
		}
		device.DevAddr = &devAddr
		link = &models.Link{
			DevAddr:   devAddr,
			DevEUI:    devEUI,
			NwkSKey:   nwkSKey,
			AppSKey:   appSKey,
			FCntCheck: models.FCntCheckStrict32,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
	}

	if err := s.store.PutDevice(r.Context(), device); err != nil {
		if err == storage.ErrDuplicateKey {
			s.respondError(w, http.StatusConflict, "device already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if link != nil {
		if err := s.store.PutLink(r.Context(), link); err != nil {
			s.store.DeleteDevice(r.Context(), devEUI)
			s.respondError(w, http.StatusInternalServerError, "failed to activate device")
			return
		}
	}

	s.respondJSON(w, http.StatusCreated, device)
}

// HandleGetDevice returns a single device.
func (s *RESTServer) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	devEUIStr := chi.URLParam(r, "dev_eui")
	devEUI, err := parseEUI64(devEUIStr)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid dev_eui")
		return
	}

	device, err := s.store.GetDevice(ctx, devEUI)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.authorizeApplicationTenant(r, device.ApplicationID); err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusForbidden, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, device)
}

// HandleUpdateDevice updates a device's mutable fields.
func (s *RESTServer) HandleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	devEUIStr := chi.URLParam(r, "dev_eui")
	devEUI, err := parseEUI64(devEUIStr)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid dev_eui")
		return
	}

	var req struct {
		Name        string `json:"name" validate:"required"`
		Description string `json:"description"`
		IsDisabled  bool   `json:"is_disabled"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	device, err := s.store.GetDevice(ctx, devEUI)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.authorizeApplicationTenant(r, device.ApplicationID); err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusForbidden, err.Error())
		return
	}

	device.Name = req.Name
	device.Description = req.Description
	device.IsDisabled = req.IsDisabled

	if err := s.store.PutDevice(ctx, device); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, device)
}

// HandleDeleteDevice removes a device.
func (s *RESTServer) HandleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	devEUIStr := chi.URLParam(r, "dev_eui")
	devEUI, err := parseEUI64(devEUIStr)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid dev_eui")
		return
	}

	device, err := s.store.GetDevice(ctx, devEUI)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.authorizeApplicationTenant(r, device.ApplicationID); err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusForbidden, err.Error())
		return
	}

	if err := s.store.DeleteDevice(ctx, devEUI); err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleActivateDevice activates a device for ABP: it replaces the
// device's Link wholesale, mirroring what a fresh join does for OTAA
// (a fresh activation drops the prior session the same way).
func (s *RESTServer) HandleActivateDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	devEUIStr := chi.URLParam(r, "dev_eui")
	devEUI, err := parseEUI64(devEUIStr)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid dev_eui")
		return
	}

	var req struct {
		DevAddr string `json:"dev_addr" validate:"required,len=8"`
		AppSKey string `json:"app_s_key" validate:"required,len=32"`
		NwkSKey string `json:"nwk_s_key" validate:"required,len=32"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	device, err := s.store.GetDevice(ctx, devEUI)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.authorizeApplicationTenant(r, device.ApplicationID); err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusForbidden, err.Error())
		return
	}

	devAddr, err := parseDevAddr(req.DevAddr)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid DevAddr")
		return
	}
	appSKey, err := parseAES128Key(req.AppSKey)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid app_s_key")
		return
	}
	nwkSKey, err := parseAES128Key(req.NwkSKey)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid nwk_s_key")
		return
	}

	if device.DevAddr != nil && *device.DevAddr != devAddr {
		s.store.DeleteLink(ctx, *device.DevAddr)
	}

	device.DevAddr = &devAddr
	if err := s.store.PutDevice(ctx, device); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	link := &models.Link{
		DevAddr:   devAddr,
		DevEUI:    devEUI,
		NwkSKey:   nwkSKey,
		AppSKey:   appSKey,
		FCntCheck: device.FCntCheck,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.store.PutLink(ctx, link); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "device activated successfully",
		"dev_addr": req.DevAddr,
	})
}

// HandleListDeviceDownlinks reports the device's single pending downlink,
// if any (the session store keeps at most one per DevAddr).
func (s *RESTServer) HandleListDeviceDownlinks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	devEUIStr := chi.URLParam(r, "dev_eui")
	devEUI, err := parseEUI64(devEUIStr)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid dev_eui")
		return
	}

	device, err := s.store.GetDevice(ctx, devEUI)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.authorizeApplicationTenant(r, device.ApplicationID); err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusForbidden, err.Error())
		return
	}

	if device.DevAddr == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"downlinks": []interface{}{}, "total": 0})
		return
	}

	pending, err := s.store.GetPendingDownlink(ctx, *device.DevAddr)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondJSON(w, http.StatusOK, map[string]interface{}{"downlinks": []interface{}{}, "total": 0})
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"downlinks": []map[string]interface{}{
			{
				"devAddr":    pending.DevAddr,
				"phyPayload": hex.EncodeToString(pending.PHYPayload),
				"confirmed":  pending.Confirmed,
				"createdAt":  pending.CreatedAt,
			},
		},
		"total": 1,
	})
}

func parseAES128Key(s string) (lorawan.AES128Key, error) {
	var key lorawan.AES128Key
	if len(s) != 32 {
		return key, fmt.Errorf("invalid length")
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, err
	}
	copy(key[:], raw)
	return key, nil
}
