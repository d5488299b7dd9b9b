package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-server-pro/internal/models"
	"github.com/lorawan-server/lorawan-server-pro/internal/region"
	"github.com/lorawan-server/lorawan-server-pro/internal/storage"
	"github.com/lorawan-server/lorawan-server-pro/pkg/lorawan"
)

// handleJoinRequest is the join engine.
func (e *Engine) handleJoinRequest(ctx context.Context, gatewayMAC lorawan.EUI64, rxq RxQ, phy *lorawan.PHYPayload) Action {
	var jr lorawan.JoinRequestPayload
	if err := jr.UnmarshalBinary(phy.MACPayload); err != nil {
		return actionErr(newError(ErrBadFrame, "", err))
	}

	// Step 1: look up Device by DevEUI.
	device, err := e.store.GetDevice(ctx, jr.DevEUI)
	if errors.Is(err, storage.ErrNotFound) {
		return actionErr(newError(ErrUnknownDevEUI, jr.DevEUI.String(), nil))
	}
	if err != nil {
		return actionErr(newError(ErrApplication, jr.DevEUI.String(), err))
	}
	if !device.CanJoin {
		// Silent: accept the radio frame but never reply or mutate state.
		log.Debug().Str("devEUI", jr.DevEUI.String()).Msg("engine: join from can_join=false device, dropping")
		return actionNone()
	}

	// Step 2: verify the join-request MIC under AppKey.
	ok, err := phy.ValidateUplinkJoinMIC(device.AppKey)
	if err != nil {
		return actionErr(newError(ErrBadFrame, jr.DevEUI.String(), err))
	}
	if !ok {
		return actionErr(newError(ErrBadMIC, jr.DevEUI.String(), nil))
	}

	// Step 3: generate AppNonce.
	appNonce, err := newAppNonce()
	if err != nil {
		return actionErr(newError(ErrApplication, jr.DevEUI.String(), err))
	}

	// Step 4: derive session keys.
	nwkSKey, appSKey, err := lorawan.DeriveSessionKeys10(device.AppKey[:], appNonce, e.netID, jr.DevNonce)
	if err != nil {
		return actionErr(newError(ErrApplication, jr.DevEUI.String(), err))
	}

	tbl, err := e.region(device.Region)
	if err != nil {
		return actionErr(newError(ErrApplication, jr.DevEUI.String(), err))
	}

	// Step 5: atomically reread the Device, allocate/reuse DevAddr,
	// create the fresh Link.
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return actionErr(newError(ErrApplication, jr.DevEUI.String(), err))
	}
	rollback := true
	defer func() {
		if rollback {
			_ = tx.Rollback()
		}
	}()

	device, err = tx.GetDevice(ctx, jr.DevEUI)
	if err != nil {
		return actionErr(newError(ErrApplication, jr.DevEUI.String(), err))
	}

	var devAddr lorawan.DevAddr
	if device.DevAddr != nil {
		// Open question: the existing DevAddr is reused as-is; its NwkID
		// bits are not re-validated against the current NetID.
		devAddr = *device.DevAddr
	} else {
		devAddr, err = allocateDevAddr(e.netID)
		if err != nil {
			return actionErr(newError(ErrApplication, jr.DevEUI.String(), err))
		}
	}

	now := time.Now()
	device.DevAddr = &devAddr
	device.LastJoin = &now
	if err := tx.PutDevice(ctx, device); err != nil {
		return actionErr(newError(ErrApplication, jr.DevEUI.String(), err))
	}

	link := &models.Link{
		DevAddr:        devAddr,
		DevEUI:         device.DevEUI,
		NwkSKey:        nwkSKey,
		AppSKey:        appSKey,
		FCntUp:         0,
		FCntDown:       0,
		FCntCheck:      device.FCntCheck,
		ADRFlagUse:     device.InitialADR,
		LastGatewayMAC: gatewayMAC,
	}
	win := tbl.DefaultRXWindow()
	link.RXWinUse = &models.RXWinInfo{RX2DR: uint8(win.DataRate), RX2Freq: win.Frequency, RXDelay: 1}
	if err := tx.PutLink(ctx, link); err != nil {
		return actionErr(newError(ErrApplication, jr.DevEUI.String(), err))
	}

	if err := tx.Commit(); err != nil {
		return actionErr(newError(ErrApplication, jr.DevEUI.String(), err))
	}
	rollback = false

	// Step 6: purge any pending downlink and TX-log entries for this
	// DevAddr.
	if err := e.store.DeletePendingDownlink(ctx, devAddr); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Warn().Err(err).Str("devAddr", devAddr.String()).Msg("engine: purge pending downlink on join")
	}
	if err := e.store.PurgeTXFramesForDevAddr(ctx, devAddr); err != nil {
		log.Warn().Err(err).Str("devAddr", devAddr.String()).Msg("engine: purge tx log on join")
	}

	// Step 7: invoke the application dispatcher's join handler.
	if err := e.dispatch.HandleJoin(ctx, devAddr, device.DevEUI, device.ApplicationID, device.AppArgs); err != nil {
		return actionErr(newError(ErrApplication, jr.DevEUI.String(), err))
	}

	return e.buildJoinAccept(device, link, tbl, appNonce, rxq)
}

// buildJoinAccept assembles, MICs, and encrypts the join-accept PHY
// payload, then schedules it in RX1.
func (e *Engine) buildJoinAccept(device *models.Device, link *models.Link, tbl region.Table, appNonce [3]byte, rxq RxQ) Action {
	accept := lorawan.JoinAcceptPayload{
		AppNonce: appNonce,
		NetID:    e.netID,
		DevAddr:  link.DevAddr,
		DLSettings: lorawan.DLSettings{
			RX1DROffset: 0,
			RX2DataRate: uint8(tbl.RX2DR()),
		},
		RxDelay: 1,
	}

	macPayload, err := accept.MarshalBinary()
	if err != nil {
		return actionErr(newError(ErrApplication, device.DevEUI.String(), err))
	}

	phy := &lorawan.PHYPayload{
		MHDR:       lorawan.MHDR{MType: lorawan.JoinAccept, Major: lorawan.LoRaWAN1_0},
		MACPayload: macPayload,
	}
	if err := phy.SetJoinAcceptMIC(device.AppKey); err != nil {
		return actionErr(newError(ErrApplication, device.DevEUI.String(), err))
	}
	// The join-accept payload is ECB-decrypted, not encrypted. Never "fix" this.
	if err := phy.EncryptJoinAcceptPayload(device.AppKey); err != nil {
		return actionErr(newError(ErrApplication, device.DevEUI.String(), err))
	}

	out, err := phy.MarshalBinary()
	if err != nil {
		return actionErr(newError(ErrApplication, device.DevEUI.String(), err))
	}

	uplinkDR, err := tbl.DataRateToIndex(rxq.DataRate)
	if err != nil {
		uplinkDR = 0
	}
	win, err := tbl.RX1Window(uplinkDR, rxq.Frequency, 0)
	if err != nil {
		win = tbl.DefaultRXWindow()
	}
	return actionSend(TxQ{Frequency: win.Frequency, DataRate: tbl.IndexToDataRateString(win.DataRate), Window: 1}, out)
}
