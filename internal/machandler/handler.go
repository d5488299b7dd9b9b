// Package machandler implements the MAC-command handler collaborator
// : it consumes the FOpts/FPort-0 commands carried on an
// uplink and produces the commands to carry on the matching downlink,
// mutating Link ADR/RX-window/diagnostic state as a side effect.
package machandler

import (
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-server-pro/internal/models"
	"github.com/lorawan-server/lorawan-server-pro/internal/region"
	"github.com/lorawan-server/lorawan-server-pro/pkg/lorawan"
)

// Handler processes the MAC commands of one uplink against a Link and
// returns the commands to queue on the reply. It may mutate link in
// place; the caller persists it.
type Handler interface {
	Handle(link *models.Link, region region.Table, commands []lorawan.MACCommand, rxSNR float64, rxRSSI int, fCnt uint32) []lorawan.MACCommand

	// BuildFOpts drains whatever this handler currently has queued against
	// link — an ADR change proposed but not yet acknowledged — into the
	// FOpts of a downlink that has no matching uplink to piggyback on, such
	// as a server-initiated (Class-C style) send.
	BuildFOpts(link *models.Link) []lorawan.MACCommand
}

// DefaultHandler implements LinkADR/DevStatus/RXParamSetup/NewChannel and
// a simple SNR-history ADR algorithm, grounded on the original ADR
// state machine.
type DefaultHandler struct {
	// TargetSNR is the SNR the ADR algorithm tries to leave as margin
	// above the chosen data rate's demodulation floor.
	TargetSNR float64
	// HistorySize is how many quality samples must accumulate before
	// the ADR algorithm proposes a new data rate.
	HistorySize int
}

func NewDefaultHandler() *DefaultHandler {
	return &DefaultHandler{TargetSNR: -20, HistorySize: 20}
}

func (h *DefaultHandler) Handle(link *models.Link, tbl region.Table, commands []lorawan.MACCommand, rxSNR float64, rxRSSI int, fCnt uint32) []lorawan.MACCommand {
	var responses []lorawan.MACCommand

	link.LastQs = append(link.LastQs, models.Quality{FCnt: fCnt, SNR: rxSNR, RSSI: rxRSSI})
	if len(link.LastQs) > h.HistorySize {
 link.LastQs = link.LastQs[len(link.LastQs)-h.HistorySize:]
	}

	for _, cmd := range commands {
 switch cmd.CID {
 case lorawan.LinkCheckReq:
 responses = append(responses, h.linkCheckAns(rxSNR, tbl))
 case lorawan.LinkADRAns:
 h.handleLinkADRAns(link, cmd.Payload)
 case lorawan.DevStatusAns:
 h.handleDevStatusAns(link, cmd.Payload)
 case lorawan.RXParamSetupAns:
 h.handleRXParamSetupAns(link, cmd.Payload)
 case lorawan.NewChannelAns:
 h.handleNewChannelAns(link, cmd.Payload)
 default:
			log.Warn().Uint8("cid", cmd.CID).Str("devAddr", link.DevAddr.String()).Msg("unhandled MAC command")
 }
	}

	if link.ADRFlagUse && h.shouldRequestADR(link) {
 if req := h.buildLinkADRReq(link, tbl); req != nil {
 responses = append(responses, *req)
 }
	}

	return responses
}

func (h *DefaultHandler) linkCheckAns(rxSNR float64, tbl region.Table) lorawan.MACCommand {
	margin := uint8(0)
	if m := rxSNR - h.TargetSNR; m > 0 && m < 255 {
 margin = uint8(m)
	}
	return lorawan.MACCommand{CID: lorawan.LinkCheckAns, Payload: []byte{margin, 1}}
}

func (h *DefaultHandler) handleLinkADRAns(link *models.Link, payload []byte) {
	if len(payload) != 1 {
 return
	}
	status := payload[0]
	powerACK := status&0x04 != 0
	drACK := status&0x02 != 0
	chMaskACK := status&0x01 != 0

	if powerACK && drACK && chMaskACK && link.ADRSet != nil {
 link.ADRUse = link.ADRSet
	}
	link.ADRSet = nil
}

func (h *DefaultHandler) handleDevStatusAns(link *models.Link, payload []byte) {
	if len(payload) != 2 {
 return
	}
	link.DevStat = &models.DevStatus{Battery: payload[0], Margin: int8(payload[1])}
}

func (h *DefaultHandler) handleRXParamSetupAns(link *models.Link, payload []byte) {
	if len(payload) != 1 {
 return
	}
	status := payload[0]
	rx1ACK := status&0x04 != 0
	rx2ACK := status&0x02 != 0
	chACK := status&0x01 != 0
	if rx1ACK && rx2ACK && chACK && link.RXWinSet != nil {
 link.RXWinUse = link.RXWinSet
	}
	link.RXWinSet = nil
}

func (h *DefaultHandler) handleNewChannelAns(link *models.Link, payload []byte) {
	// Accepted or rejected; this deployment carries no per-link extra
	// channel plan to reconcile against, so the ACK bits are ignored and
	// nothing is mutated.
	_ = payload
}

// shouldRequestADR reports whether enough fresh quality samples have
// accumulated to propose a new data rate/power.
func (h *DefaultHandler) shouldRequestADR(link *models.Link) bool {
	return link.ADRSet == nil && len(link.LastQs) >= h.HistorySize
}

// buildLinkADRReq computes a new (DataRate, TXPower) from the recent SNR
// window and requests it via LinkADRReq, grounded on the original
// margin-based step algorithm.
func (h *DefaultHandler) buildLinkADRReq(link *models.Link, tbl region.Table) *lorawan.MACCommand {
	var sumSNR float64
	for _, q := range link.LastQs {
 sumSNR += q.SNR
	}
	avgSNR := sumSNR / float64(len(link.LastQs))
	margin := avgSNR - h.TargetSNR

	dr := 0
	if link.ADRUse != nil && link.ADRUse.DataRate != nil {
 dr = *link.ADRUse.DataRate
	}
	txPower := 0
	if link.ADRUse != nil && link.ADRUse.TXPower != nil {
 txPower = *link.ADRUse.TXPower
	}

	newDR := dr
	switch {
	case margin > 3:
 newDR = dr + 1
	case margin < -3:
 newDR = dr - 1
	}
	if newDR < 0 {
 newDR = 0
	}
	if maxDR := tbl.MaxDataRate(); newDR > maxDR {
 newDR = maxDR
	}

	newTxPower := txPower
	if newDR == dr {
 if margin > 0 {
 newTxPower = txPower + 1
 } else if margin < 0 && txPower > 0 {
 newTxPower = txPower - 1
 }
	}

	link.ADRSet = &models.ADRInfo{DataRate: &newDR, TXPower: &newTxPower}
	link.LastQs = nil

	cmd := encodeLinkADRReq(newDR, newTxPower)
	return &cmd
}

// encodeLinkADRReq serializes an already-decided (DataRate, TXPower) pair
// into the wire LinkADRReq payload. Shared between buildLinkADRReq, which
// proposes a change for the first time, and BuildFOpts, which resends an
// already-proposed but not-yet-acknowledged change on a later downlink.
func encodeLinkADRReq(dr, txPower int) lorawan.MACCommand {
	payload := make([]byte, 4)
	payload[0] = byte(dr<<4) | byte(txPower&0x0F)
	payload[1] = 0xFF
	payload[2] = 0x00
	payload[3] = 1
	return lorawan.MACCommand{CID: lorawan.LinkADRReq, Payload: payload}
}

// BuildFOpts returns the MAC commands currently queued against link. The
// only command this handler holds across calls is a pending LinkADRReq
// (link.ADRSet, cleared once handleLinkADRAns sees the ACK bits); queuing
// happens inline inside Handle for the normal uplink-triggered reply path,
// so this only matters for a downlink with no uplink to piggyback on.
func (h *DefaultHandler) BuildFOpts(link *models.Link) []lorawan.MACCommand {
	if link.ADRSet == nil || link.ADRSet.DataRate == nil || link.ADRSet.TXPower == nil {
		return nil
	}
	return []lorawan.MACCommand{encodeLinkADRReq(*link.ADRSet.DataRate, *link.ADRSet.TXPower)}
}
