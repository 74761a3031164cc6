//go:build linux

package socketcan

import (
	"encoding/json"
	"fmt"

	"github.com/notnil/twai"
)

// linkInfo is the subset of `ip -details -statistics -json link show` output
// the driver reads.
type linkInfo struct {
	IfName   string `json:"ifname"`
	TxQLen   uint32 `json:"txqlen"`
	LinkInfo struct {
		InfoKind string `json:"info_kind"`
		InfoData struct {
			State       string `json:"state"`
			BerrCounter *struct {
				Tx uint32 `json:"tx"`
				Rx uint32 `json:"rx"`
			} `json:"berr_counter"`
			RestartMs uint32 `json:"restart_ms"`
			BitTiming struct {
				Bitrate uint32 `json:"bitrate"`
			} `json:"bittiming"`
		} `json:"info_data"`
		InfoXStats struct {
			Restarts        uint32 `json:"restarts"`
			BusError        uint32 `json:"bus_error"`
			ArbitrationLost uint32 `json:"arbitration_lost"`
			ErrorWarning    uint32 `json:"error_warning"`
			ErrorPassive    uint32 `json:"error_passive"`
			BusOff          uint32 `json:"bus_off"`
		} `json:"info_xstats"`
	} `json:"linkinfo"`
	Stats64 struct {
		Rx struct {
			Errors     uint32 `json:"errors"`
			Dropped    uint32 `json:"dropped"`
			OverErrors uint32 `json:"over_errors"`
		} `json:"rx"`
		Tx struct {
			Errors  uint32 `json:"errors"`
			Dropped uint32 `json:"dropped"`
		} `json:"tx"`
	} `json:"stats64"`
}

// Kernel CAN controller states as printed by iproute2.
const (
	kernelErrorActive  = "ERROR-ACTIVE"
	kernelErrorWarning = "ERROR-WARNING"
	kernelErrorPassive = "ERROR-PASSIVE"
	kernelBusOff       = "BUS-OFF"
	kernelStopped      = "STOPPED"
	kernelSleeping     = "SLEEPING"
)

func parseLinkInfo(out []byte) (linkInfo, error) {
	var links []linkInfo
	if err := json.Unmarshal(out, &links); err != nil {
		return linkInfo{}, fmt.Errorf("socketcan: decode ip output: %w", err)
	}
	if len(links) != 1 {
		return linkInfo{}, fmt.Errorf("socketcan: expected one link, got %d", len(links))
	}
	if links[0].LinkInfo.InfoKind != "can" {
		return linkInfo{}, fmt.Errorf("socketcan: %s is not a CAN interface (kind %q)", links[0].IfName, links[0].LinkInfo.InfoKind)
	}
	return links[0], nil
}

func queryLink(run runner, name string) (linkInfo, error) {
	out, err := run("ip", "-details", "-statistics", "-json", "link", "show", "dev", name)
	if err != nil {
		return linkInfo{}, fmt.Errorf("socketcan: ip link show %s: %w", name, err)
	}
	return parseLinkInfo(out)
}

// state maps the kernel state onto the driver states. running is whether
// our socket is open; recovering whether a restart was requested and not
// yet followed by Start.
func (l linkInfo) state(running, recovering bool) twai.State {
	switch l.LinkInfo.InfoData.State {
	case kernelBusOff:
		if recovering {
			return twai.StateRecovering
		}
		return twai.StateBusOff
	case kernelErrorActive, kernelErrorWarning, kernelErrorPassive:
		if running && !recovering {
			return twai.StateRunning
		}
		return twai.StateStopped
	default:
		return twai.StateStopped
	}
}

func (l linkInfo) status(running, recovering bool) twai.Status {
	st := twai.Status{
		State:          l.state(running, recovering),
		TxFailedCount:  l.Stats64.Tx.Errors + l.Stats64.Tx.Dropped,
		RxMissedCount:  l.Stats64.Rx.Dropped,
		RxOverrunCount: l.Stats64.Rx.OverErrors,
		ArbLostCount:   l.LinkInfo.InfoXStats.ArbitrationLost,
		BusErrorCount:  l.LinkInfo.InfoXStats.BusError,
	}
	if b := l.LinkInfo.InfoData.BerrCounter; b != nil {
		st.TxErrorCounter = b.Tx
		st.RxErrorCounter = b.Rx
	}
	return st
}
