package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-server-pro/internal/appdispatch"
	"github.com/lorawan-server/lorawan-server-pro/internal/models"
	"github.com/lorawan-server/lorawan-server-pro/internal/region"
	"github.com/lorawan-server/lorawan-server-pro/internal/storage"
	"github.com/lorawan-server/lorawan-server-pro/pkg/lorawan"
)

// handleDataUp is the uplink engine.
func (e *Engine) handleDataUp(ctx context.Context, gatewayMAC lorawan.EUI64, rxq RxQ, phy *lorawan.PHYPayload) Action {
	var mp lorawan.MACPayload
	if err := mp.Unmarshal(phy.MACPayload, true); err != nil {
		return actionErr(newError(ErrBadFrame, "", err))
	}
	devAddr := mp.FHDR.DevAddr

	// Step 1: ignore filter.
	ignored, err := e.store.ListIgnoredLinks(ctx)
	if err != nil {
		return actionErr(newError(ErrApplication, devAddr.String(), err))
	}
	for _, il := range ignored {
		if il.Matches(devAddr) {
			return actionNone()
		}
	}

	// Step 2: session lookup, held open as a transaction through to the
	// FCntUp write below so two gateways racing on the same frame can't
	// both read the pre-update FCnt and both slip past classifyFCnt as
	// classNew.
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return actionErr(newError(ErrApplication, devAddr.String(), err))
	}
	rollback := true
	defer func() {
		if rollback {
			_ = tx.Rollback()
		}
	}()

	link, err := tx.GetLink(ctx, devAddr)
	if errors.Is(err, storage.ErrNotFound) {
		return actionErr(newError(ErrUnknownDevAddr, devAddr.String(), nil))
	}
	if err != nil {
		return actionErr(newError(ErrApplication, devAddr.String(), err))
	}

	device, err := tx.GetDevice(ctx, link.DevEUI)
	if err != nil {
		return actionErr(newError(ErrApplication, devAddr.String(), err))
	}
	tbl, err := e.region(device.Region)
	if err != nil {
		return actionErr(newError(ErrApplication, devAddr.String(), err))
	}

	// Step 3: FCnt classification.
	class, newFCnt, ok := classifyFCnt(link.FCntCheck, link.FCntUp, mp.FHDR.FCnt)
	if !ok {
		return actionErr(newError(ErrFCntGapTooLarge, devAddr.String(), fmt.Errorf("fcnt=0x%04x stored=0x%08x", mp.FHDR.FCnt, link.FCntUp)))
	}

	// Step 4: MIC verify. Bad MIC never mutates state.
	micOK, err := phy.ValidateUplinkDataMIC(devAddr, newFCnt, link.NwkSKey)
	if err != nil {
		return actionErr(newError(ErrApplication, devAddr.String(), err))
	}
	if !micOK {
		return actionErr(newError(ErrBadMIC, devAddr.String(), nil))
	}

	// Step 5: double_fopts check, then payload decrypt.
	isMACOnPort0 := mp.FPort != nil && *mp.FPort == 0
	if isMACOnPort0 && len(mp.FHDR.FOpts) > 0 {
		return actionErr(newError(ErrDoubleFOpts, devAddr.String(), nil))
	}

	fOptsIn := mp.FHDR.FOpts
	var appData []byte
	switch {
	case isMACOnPort0:
		plain, err := lorawan.CipherPayload(link.NwkSKey, devAddr, newFCnt, true, mp.FRMPayload)
		if err != nil {
			return actionErr(newError(ErrBadFrame, devAddr.String(), err))
		}
		fOptsIn = plain
	case mp.FPort != nil:
		plain, err := lorawan.CipherPayload(link.AppSKey, devAddr, newFCnt, true, mp.FRMPayload)
		if err != nil {
			return actionErr(newError(ErrBadFrame, devAddr.String(), err))
		}
		appData = plain
	}

	// Step 6: classification dispatch. Retransmit never mutates the Link,
	// so the transaction closes here with nothing to commit; reset/new
	// carry their FCntUp write through to processNewUplink, which commits
	// tx once the Link is durable before doing any non-DB work.
	switch class {
	case classRetransmit:
		rollback = false
		if err := tx.Commit(); err != nil {
			return actionErr(newError(ErrApplication, devAddr.String(), err))
		}
		e.logRXFrame(ctx, gatewayMAC, rxq, device, link, mp.FPort, appData, newFCnt, phy.MHDR.MType == lorawan.ConfirmedDataUp)
		pending, err := e.store.GetPendingDownlink(ctx, devAddr)
		if errors.Is(err, storage.ErrNotFound) {
			return actionNone()
		}
		if err != nil {
			return actionErr(newError(ErrApplication, devAddr.String(), err))
		}
		return actionSend(e.chooseTx(tbl, rxq, link), pending.PHYPayload)

	case classReset:
		if err := tx.DeletePendingDownlink(ctx, devAddr); err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Str("devAddr", devAddr.String()).Msg("engine: purge pending downlink on reset")
		}
		if err := tx.PurgeTXFramesForDevAddr(ctx, devAddr); err != nil {
			log.Warn().Err(err).Str("devAddr", devAddr.String()).Msg("engine: purge tx log on reset")
		}
		link.ADRUse = nil
		link.ADRFlagUse = device.InitialADR
		link.LastQs = nil
		win := tbl.DefaultRXWindow()
		link.RXWinUse = &models.RXWinInfo{RX2DR: uint8(win.DataRate), RX2Freq: win.Frequency, RXDelay: 1}
		now := time.Now()
		link.LastReset = &now
		link.FCntUp = newFCnt
		return e.processNewUplink(ctx, tx, &rollback, gatewayMAC, rxq, phy, mp, device, link, tbl, newFCnt, fOptsIn, appData)

	default: // classNew
		link.FCntUp = newFCnt
		return e.processNewUplink(ctx, tx, &rollback, gatewayMAC, rxq, phy, mp, device, link, tbl, newFCnt, fOptsIn, appData)
	}
}

// processNewUplink is step 7: ADR tracking, MAC-command dispatch,
// persistence, and the application reply decision.
func (e *Engine) processNewUplink(
	ctx context.Context,
	tx storage.Store,
	rollback *bool,
	gatewayMAC lorawan.EUI64,
	rxq RxQ,
	phy *lorawan.PHYPayload,
	mp lorawan.MACPayload,
	device *models.Device,
	link *models.Link,
	tbl region.Table,
	fCnt uint32,
	fOptsIn []byte,
	appData []byte,
) Action {
	devAddr := link.DevAddr

	// 7.1: ADR tracking.
	rxDR, err := tbl.DataRateToIndex(rxq.DataRate)
	if err != nil {
		rxDR = 0
	}
	prevADRFlag := link.ADRFlagUse
	prevDR := -1
	if link.ADRUse != nil && link.ADRUse.DataRate != nil {
		prevDR = *link.ADRUse.DataRate
	}
	link.ADRFlagUse = mp.FHDR.FCtrl.ADR
	if link.ADRUse == nil {
		link.ADRUse = &models.ADRInfo{}
	}
	dr := rxDR
	link.ADRUse.DataRate = &dr
	if prevADRFlag != link.ADRFlagUse || prevDR != rxDR {
		link.DevStatFCnt = 0
		link.LastQs = nil
	}

	// 7.2: MAC-command handler.
	commands, err := lorawan.ParseMACCommands(true, fOptsIn)
	if err != nil {
		log.Warn().Err(err).Str("devAddr", devAddr.String()).Msg("engine: malformed MAC commands, ignoring")
		commands = nil
	}
	outCommands := e.mac.Handle(link, tbl, commands, rxq.SNR, rxq.RSSI, fCnt)
	outFOpts, err := lorawan.EncodeMACCommands(outCommands)
	if err != nil {
		return actionErr(newError(ErrApplication, devAddr.String(), err))
	}

	// 7.3: persist link and RX-log entry.
	now := time.Now()
	link.LastGatewayMAC = gatewayMAC
	link.LastRX = &now
	link.LastRxQ = &models.RxQ{
		Frequency:                       rxq.Frequency,
		DataRate:                        rxq.DataRate,
		SNR:                             rxq.SNR,
		RSSI:                            rxq.RSSI,
		ServerMonotonicReceiveTimestamp: rxq.ServerMonotonicReceiveTimestamp,
	}
	if err := tx.PutLink(ctx, link); err != nil {
		return actionErr(newError(ErrApplication, devAddr.String(), err))
	}
	*rollback = false
	if err := tx.Commit(); err != nil {
		return actionErr(newError(ErrApplication, devAddr.String(), err))
	}
	confirmed := phy.MHDR.MType == lorawan.ConfirmedDataUp
	e.logRXFrame(ctx, gatewayMAC, rxq, device, link, mp.FPort, appData, fCnt, confirmed)

	// 7.4: last_lost + pending PHY for possible retransmit.
	pending, perr := e.store.GetPendingDownlink(ctx, devAddr)
	hasPending := perr == nil
	lastLost := hasPending && pending.Confirmed && !mp.FHDR.FCtrl.ACK

	// 7.5: shall_reply.
	shallReply := confirmed || mp.FHDR.FCtrl.ADRACKReq || len(outFOpts) > 0

	// 7.6: application dispatch.
	rx := appdispatch.RxData{
		FCnt:       fCnt,
		FPort:      mp.FPort,
		Data:       appData,
		LastLost:   lastLost,
		ShallReply: shallReply,
	}
	result, err := e.dispatch.HandleRX(ctx, devAddr, device.DevEUI, device.ApplicationID, device.AppArgs, rx, *link.LastRxQ)
	if err != nil {
		return actionErr(newError(ErrApplication, devAddr.String(), err))
	}

	switch result.Outcome {
	case appdispatch.RXRetransmit:
		if !hasPending {
			return actionNone()
		}
		return actionSend(e.chooseTx(tbl, rxq, link), pending.PHYPayload)
	case appdispatch.RXSend:
		return e.encodeUnicast(ctx, tbl, rxq, link, confirmed, outCommands, result.TxData)
	default: // RXOk
		if shallReply {
			return e.encodeUnicast(ctx, tbl, rxq, link, confirmed, outCommands, appdispatch.TxData{})
		}
		return actionNone()
	}
}

// logRXFrame appends one RX-log entry.
func (e *Engine) logRXFrame(ctx context.Context, gatewayMAC lorawan.EUI64, rxq RxQ, device *models.Device, link *models.Link, fPort *uint8, data []byte, fCnt uint32, confirmed bool) {
	f := &models.RXFrame{
		DevAddr:       link.DevAddr,
		DevEUI:        device.DevEUI,
		ApplicationID: device.ApplicationID.String(),
		GatewayID:     gatewayMAC,
		RxQ: models.RxQ{
			Frequency:                       rxq.Frequency,
			DataRate:                        rxq.DataRate,
			SNR:                             rxq.SNR,
			RSSI:                            rxq.RSSI,
			ServerMonotonicReceiveTimestamp: rxq.ServerMonotonicReceiveTimestamp,
		},
		FCnt:       fCnt,
		FPort:      fPort,
		Confirmed:  confirmed,
		Data:       data,
		DevStat:    link.DevStat,
		ReceivedAt: time.Now(),
	}
	if err := e.store.PutRXFrame(ctx, f); err != nil {
		log.Warn().Err(err).Str("devAddr", link.DevAddr.String()).Msg("engine: persist rx frame")
	}
}

// chooseTx implements the RX-window choice: RX1 if there's still enough
// budget before it closes, RX2 otherwise.
func (e *Engine) chooseTx(tbl region.Table, rxq RxQ, link *models.Link) TxQ {
	window := 2
	if time.Since(rxq.ServerMonotonicReceiveTimestamp) < tbl.RX1Delay()-e.preprocessingDelay {
		window = 1
	}

	if window == 1 {
		uplinkDR, err := tbl.DataRateToIndex(rxq.DataRate)
		if err == nil {
			offset := 0
			if link != nil && link.RXWinUse != nil {
				offset = int(link.RXWinUse.RX1DROffset)
			}
			if win, err := tbl.RX1Window(uplinkDR, rxq.Frequency, offset); err == nil {
				return TxQ{Frequency: win.Frequency, DataRate: tbl.IndexToDataRateString(win.DataRate), Window: 1}
			}
		}
	}

	rx2DR, rx2Freq := 0, uint32(0)
	if link != nil && link.RXWinUse != nil {
		rx2DR, rx2Freq = int(link.RXWinUse.RX2DR), link.RXWinUse.RX2Freq
	}
	win := tbl.RX2Window(rx2DR, rx2Freq)
	return TxQ{Frequency: win.Frequency, DataRate: tbl.IndexToDataRateString(win.DataRate), Window: 2}
}
