package api

import (
	"encoding/base64"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzip"

	"github.com/lorawan-server/lorawan-server-pro/internal/storage"
)

// HandleSendDownlink queues an application-initiated downlink for the
// device's DevAddr. Delivery is async: the request is published to the
// network server over NATS and this handler returns as soon as it's been
// accepted, not once it's been transmitted.
func (s *RESTServer) HandleSendDownlink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	devEUIStr := chi.URLParam(r, "dev_eui")
	devEUI, err := parseEUI64(devEUIStr)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid dev_eui")
		return
	}

	var req struct {
		FPort     *uint8 `json:"f_port"`
		Data      string `json:"data"`
		Confirmed bool   `json:"confirmed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if s.nc == nil {
		s.respondError(w, http.StatusServiceUnavailable, "downlink dispatch unavailable: NATS not configured")
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
		s.respondError(w, http.StatusConflict, "device has not joined")
		return
	}

	if req.Data != "" {
		if _, err := base64.StdEncoding.DecodeString(req.Data); err != nil {
			s.respondError(w, http.StatusBadRequest, "data must be base64-encoded")
			return
		}
	}

	msg := map[string]interface{}{
		"devAddr":   hex.EncodeToString(device.DevAddr[:]),
		"fPort":     req.FPort,
		"data":      req.Data,
		"confirmed": req.Confirmed,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	subject := fmt.Sprintf("application.%s.device.%s.down", device.ApplicationID, devEUIStr)
	if err := s.nc.Publish(subject, payload); err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to queue downlink")
		return
	}

	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"message": "downlink queued",
	})
}

// HandleGetDeviceData returns the device's most recent uplink frames.
func (s *RESTServer) HandleGetDeviceData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	devEUIStr := chi.URLParam(r, "dev_eui")
	devEUI, err := parseEUI64(devEUIStr)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid dev_eui")
		return
	}

	if err := s.authorizeDeviceTenant(r, devEUI); err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
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

	frames, total, err := s.store.ListRXFrames(ctx, devEUI, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"frames": frames,
		"total":  total,
	})
}

// HandleExportDeviceData exports the device's uplink frames as CSV. A batch
// can run to thousands of rows, so the response is gzip-compressed whenever
// the client advertises support for it, rather than shipping the raw CSV.
func (s *RESTServer) HandleExportDeviceData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	devEUIStr := chi.URLParam(r, "dev_eui")
	devEUI, err := parseEUI64(devEUIStr)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid dev_eui")
		return
	}

	if err := s.authorizeDeviceTenant(r, devEUI); err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusForbidden, err.Error())
		return
	}

	frames, _, err := s.store.ListRXFrames(ctx, devEUI, 10000, 0)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", devEUIStr))

	var out io.Writer = w
	if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Encoding", "gzip")
		gz, err := gzip.NewWriterLevel(w, gzip.BestSpeed)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		defer gz.Close()
		out = gz
	}

	cw := csv.NewWriter(out)
	cw.Write([]string{"frame_id", "received_at", "f_cnt", "f_port", "confirmed", "rssi", "snr", "data_rate", "data_hex"})
	for _, f := range frames {
		fPort := ""
		if f.FPort != nil {
			fPort = strconv.Itoa(int(*f.FPort))
		}
		cw.Write([]string{
			strconv.FormatUint(f.FrameID, 10),
			f.ReceivedAt.Format("2006-01-02T15:04:05Z07:00"),
			strconv.FormatUint(uint64(f.FCnt), 10),
			fPort,
			strconv.FormatBool(f.Confirmed),
			strconv.Itoa(f.RxQ.RSSI),
			strconv.FormatFloat(f.RxQ.SNR, 'f', 1, 64),
			f.RxQ.DataRate,
			hex.EncodeToString(f.Data),
		})
	}
	cw.Flush()
}
