package engine

import (
	"context"
	"time"

	"github.com/lorawan-server/lorawan-server-pro/internal/appdispatch"
	"github.com/lorawan-server/lorawan-server-pro/internal/models"
	"github.com/lorawan-server/lorawan-server-pro/internal/region"
	"github.com/lorawan-server/lorawan-server-pro/pkg/lorawan"
)

// encodeUnicast is the downlink engine (C7): atomically allocates the
// next fcntdown, builds the PHY payload, persists it as the pending
// downlink, and schedules it.
func (e *Engine) encodeUnicast(ctx context.Context, tbl region.Table, rxq RxQ, link *models.Link, ack bool, fOpts []lorawan.MACCommand, txData appdispatch.TxData) Action {
	devAddr := link.DevAddr

	// Step 1: atomically allocate fcntdown.
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

	fresh, err := tx.GetLink(ctx, devAddr)
	if err != nil {
		return actionErr(newError(ErrApplication, devAddr.String(), err))
	}
	fCntDown := (fresh.FCntDown + 1) & 0xFFFFFFFF
	fresh.FCntDown = fCntDown
	if err := tx.PutLink(ctx, fresh); err != nil {
		return actionErr(newError(ErrApplication, devAddr.String(), err))
	}
	if err := tx.Commit(); err != nil {
		return actionErr(newError(ErrApplication, devAddr.String(), err))
	}
	rollback = false
	link.FCntDown = fCntDown

	foptsBytes, err := lorawan.EncodeMACCommands(fOpts)
	if err != nil {
		return actionErr(newError(ErrApplication, devAddr.String(), err))
	}

	// Step 2-3: build FHDR and MACPayload.
	mp := lorawan.MACPayload{
		FHDR: lorawan.FHDR{
			DevAddr: devAddr,
			FCtrl: lorawan.FCtrl{
				ADR:      link.ADRFlagSet,
				ACK:      ack,
				FPending: txData.Pending,
			},
			FCnt:  uint16(fCntDown),
			FOpts: foptsBytes,
		},
	}
	if txData.FPort != nil && len(txData.Data) > 0 {
		key := link.AppSKey
		if *txData.FPort == 0 {
			key = link.NwkSKey
		}
		cipher, err := lorawan.CipherPayload(key, devAddr, fCntDown, false, txData.Data)
		if err != nil {
			return actionErr(newError(ErrApplication, devAddr.String(), err))
		}
		mp.FPort = txData.FPort
		mp.FRMPayload = cipher
	}

	macPayload, err := mp.Marshal(false)
	if err != nil {
		return actionErr(newError(ErrApplication, devAddr.String(), err))
	}

	mtype := lorawan.UnconfirmedDataDown
	if txData.Confirmed {
		mtype = lorawan.ConfirmedDataDown
	}
	phy := &lorawan.PHYPayload{
		MHDR:       lorawan.MHDR{MType: mtype, Major: lorawan.LoRaWAN1_0},
		MACPayload: macPayload,
	}
	// Step 4: MIC, Dir=1 always for downlink.
	if err := phy.SetDownlinkDataMIC(devAddr, fCntDown, link.NwkSKey); err != nil {
		return actionErr(newError(ErrApplication, devAddr.String(), err))
	}
	out, err := phy.MarshalBinary()
	if err != nil {
		return actionErr(newError(ErrApplication, devAddr.String(), err))
	}

	// Step 5: persist pending + TX-log.
	if err := e.store.PutPendingDownlink(ctx, &models.PendingDownlink{
		DevAddr:    devAddr,
		PHYPayload: out,
		Confirmed:  txData.Confirmed,
		CreatedAt:  time.Now(),
	}); err != nil {
		return actionErr(newError(ErrApplication, devAddr.String(), err))
	}
	txFrame := &models.TXFrame{
		DevAddr:   devAddr,
		Data:      txData.Data,
		Confirmed: txData.Confirmed,
		GatewayID: link.LastGatewayMAC,
		CreatedAt: time.Now(),
	}
	if txData.FPort != nil {
		txFrame.FPort = *txData.FPort
	}
	if err := e.store.PutTXFrame(ctx, txFrame); err != nil {
		return actionErr(newError(ErrApplication, devAddr.String(), err))
	}

	return actionSend(e.chooseTx(tbl, rxq, link), out)
}

// encodeMulticast mirrors encodeUnicast against a MulticastGroup: it
// forbids confirmed frames and carries no FOpts.
func (e *Engine) encodeMulticast(ctx context.Context, tbl region.Table, group *models.MulticastGroup, txData appdispatch.TxData) Action {
	if txData.Confirmed {
		return actionErr(newError(ErrNotAllowed, group.DevAddr.String(), nil))
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return actionErr(newError(ErrApplication, group.DevAddr.String(), err))
	}
	rollback := true
	defer func() {
		if rollback {
			_ = tx.Rollback()
		}
	}()

	fresh, err := tx.GetMulticastGroup(ctx, group.DevAddr)
	if err != nil {
		return actionErr(newError(ErrApplication, group.DevAddr.String(), err))
	}
	fCntDown := (fresh.FCntDown + 1) & 0xFFFFFFFF
	fresh.FCntDown = fCntDown
	if err := tx.PutMulticastGroup(ctx, fresh); err != nil {
		return actionErr(newError(ErrApplication, group.DevAddr.String(), err))
	}
	if err := tx.Commit(); err != nil {
		return actionErr(newError(ErrApplication, group.DevAddr.String(), err))
	}
	rollback = false

	mp := lorawan.MACPayload{
		FHDR: lorawan.FHDR{DevAddr: group.DevAddr, FCnt: uint16(fCntDown)},
	}
	if txData.FPort != nil && len(txData.Data) > 0 {
		key := group.AppSKey
		if *txData.FPort == 0 {
			key = group.NwkSKey
		}
		cipher, err := lorawan.CipherPayload(key, group.DevAddr, fCntDown, false, txData.Data)
		if err != nil {
			return actionErr(newError(ErrApplication, group.DevAddr.String(), err))
		}
		mp.FPort = txData.FPort
		mp.FRMPayload = cipher
	}

	macPayload, err := mp.Marshal(false)
	if err != nil {
		return actionErr(newError(ErrApplication, group.DevAddr.String(), err))
	}
	phy := &lorawan.PHYPayload{
		MHDR:       lorawan.MHDR{MType: lorawan.UnconfirmedDataDown, Major: lorawan.LoRaWAN1_0},
		MACPayload: macPayload,
	}
	if err := phy.SetDownlinkDataMIC(group.DevAddr, fCntDown, group.NwkSKey); err != nil {
		return actionErr(newError(ErrApplication, group.DevAddr.String(), err))
	}
	out, err := phy.MarshalBinary()
	if err != nil {
		return actionErr(newError(ErrApplication, group.DevAddr.String(), err))
	}

	win := tbl.RX2Window(group.RX2DR, group.RX2Freq)
	return actionSend(TxQ{Frequency: win.Frequency, DataRate: tbl.IndexToDataRateString(win.DataRate), Window: 2}, out)
}

// HandleDownlink is the server-initiated send path: always RX2, ACK=0,
// any MAC commands already queued by the MAC-command handler go out as
// FOpts.
func (e *Engine) HandleDownlink(ctx context.Context, devAddr lorawan.DevAddr, txData appdispatch.TxData) Action {
	link, err := e.store.GetLink(ctx, devAddr)
	if err != nil {
		return actionErr(newError(ErrUnknownDevAddr, devAddr.String(), err))
	}
	device, err := e.store.GetDevice(ctx, link.DevEUI)
	if err != nil {
		return actionErr(newError(ErrApplication, devAddr.String(), err))
	}
	tbl, err := e.region(device.Region)
	if err != nil {
		return actionErr(newError(ErrApplication, devAddr.String(), err))
	}

	rx2DR, rx2Freq := 0, uint32(0)
	if link.RXWinUse != nil {
		rx2DR, rx2Freq = int(link.RXWinUse.RX2DR), link.RXWinUse.RX2Freq
	}
	win := tbl.RX2Window(rx2DR, rx2Freq)
	fakeRxq := RxQ{Frequency: win.Frequency, DataRate: tbl.IndexToDataRateString(win.DataRate)}

	fOpts := e.mac.BuildFOpts(link)
	action := e.encodeUnicast(ctx, tbl, fakeRxq, link, false, fOpts, txData)
	if action.Kind == ActionSend {
		action.TxQ = TxQ{Frequency: win.Frequency, DataRate: tbl.IndexToDataRateString(win.DataRate), Window: 2}
		action.GatewayMAC = link.LastGatewayMAC
	}
	return action
}
