package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/notnil/twai"
)

const usage = `commands:
  start [kbps]           install and start (default: configured speed)
  stop                   stop and uninstall
  speed [kbps]           show or set the configured speed
  pins <tx> <rx>         set the tx/rx GPIOs
  queues <tx> <rx>       set queue lengths
  send <id>#<data> [ms]  transmit, e.g. 123#DEADBEEF, 1FFFFFFF#01, 7DF#R
  read [ms]              receive one frame
  status                 print controller status
  recover                start bus-off recovery
  restart                start again after recovery
  quit`

type shell struct {
	c   *twai.Controller
	out io.Writer
}

// exec runs one command line and reports whether the shell should exit.
func (s *shell) exec(line string) bool {
	args, err := shlex.Split(line)
	if err != nil {
		fmt.Fprintln(s.out, "error:", err)
		return false
	}
	if len(args) == 0 {
		return false
	}
	switch cmd, rest := args[0], args[1:]; cmd {
	case "quit", "exit":
		return true
	case "help":
		fmt.Fprintln(s.out, usage)
	default:
		if err := s.run(cmd, rest); err != nil {
			fmt.Fprintln(s.out, "error:", err)
		}
	}
	return false
}

func (s *shell) run(cmd string, args []string) error {
	c := s.c
	switch cmd {
	case "start":
		speed := c.Speed()
		if len(args) > 0 {
			kbps, err := parseUint16(args[0])
			if err != nil {
				return err
			}
			speed = c.ConvertSpeed(kbps)
		}
		tx, rx := c.Pins()
		txq, rxq := c.QueueSizes()
		return result(c.Start(speed, tx, rx, txq, rxq, nil), "start")
	case "stop":
		return result(c.Stop(), "stop")
	case "speed":
		if len(args) > 0 {
			kbps, err := parseUint16(args[0])
			if err != nil {
				return err
			}
			c.SetSpeed(c.ConvertSpeed(kbps))
		}
		fmt.Fprintln(s.out, c.Speed())
	case "pins":
		if len(args) != 2 {
			return errors.New("usage: pins <tx> <rx>")
		}
		tx, err := strconv.ParseInt(args[0], 10, 8)
		if err != nil {
			return err
		}
		rx, err := strconv.ParseInt(args[1], 10, 8)
		if err != nil {
			return err
		}
		return result(c.SetPins(int8(tx), int8(rx)), "pins")
	case "queues":
		if len(args) != 2 {
			return errors.New("usage: queues <tx> <rx>")
		}
		tx, err := parseUint16(args[0])
		if err != nil {
			return err
		}
		rx, err := parseUint16(args[1])
		if err != nil {
			return err
		}
		c.SetTxQueueSize(tx)
		c.SetRxQueueSize(rx)
	case "send":
		if len(args) == 0 {
			return errors.New("usage: send <id>#<data> [ms]")
		}
		f, err := parseFrame(args[0])
		if err != nil {
			return err
		}
		timeout, err := parseTimeout(args[1:], twai.DefaultWriteTimeout)
		if err != nil {
			return err
		}
		return result(c.WriteFrame(&f, timeout), "send")
	case "read":
		timeout, err := parseTimeout(args, twai.DefaultReadTimeout)
		if err != nil {
			return err
		}
		var f twai.Frame
		if !c.ReadFrame(&f, timeout) {
			return errors.New("no frame")
		}
		fmt.Fprintln(s.out, f)
	case "status":
		st, ok := c.StatusInfo()
		if !ok {
			return errors.New("status unavailable")
		}
		fmt.Fprintf(s.out, "state=%s speed=%s tx_queue=%d rx_queue=%d tec=%d rec=%d tx_failed=%d rx_missed=%d bus_errors=%d\n",
			st.State, c.Speed(), st.MsgsToTx, st.MsgsToRx, st.TxErrorCounter, st.RxErrorCounter,
			st.TxFailedCount, st.RxMissedCount, st.BusErrorCount)
	case "recover":
		return result(c.Recover(), "recover")
	case "restart":
		return result(c.Restart(), "restart")
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return nil
}

func result(ok bool, op string) error {
	if !ok {
		return fmt.Errorf("%s failed", op)
	}
	return nil
}

func parseUint16(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	return uint16(n), err
}

func parseTimeout(args []string, def time.Duration) (time.Duration, error) {
	if len(args) == 0 {
		return def, nil
	}
	ms, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// parseFrame parses can-utils compact notation: three hex digits for a
// standard ID or eight for an extended one, '#', then up to eight data
// bytes in hex or R for a remote request.
func parseFrame(s string) (twai.Frame, error) {
	id, data, ok := strings.Cut(s, "#")
	if !ok {
		return twai.Frame{}, fmt.Errorf("frame %q: missing '#'", s)
	}
	var f twai.Frame
	switch len(id) {
	case 3:
	case 8:
		f.Extended = true
	default:
		return twai.Frame{}, fmt.Errorf("frame %q: id must be 3 or 8 hex digits", s)
	}
	n, err := strconv.ParseUint(id, 16, 32)
	if err != nil {
		return twai.Frame{}, fmt.Errorf("frame %q: %w", s, err)
	}
	f.ID = uint32(n)
	if strings.EqualFold(data, "R") {
		f.RTR = true
		return f, f.Validate()
	}
	b, err := hex.DecodeString(strings.ReplaceAll(data, ".", ""))
	if err != nil {
		return twai.Frame{}, fmt.Errorf("frame %q: %w", s, err)
	}
	if len(b) > len(f.Data) {
		return twai.Frame{}, fmt.Errorf("frame %q: more than %d data bytes", s, len(f.Data))
	}
	f.Len = uint8(copy(f.Data[:], b))
	return f, f.Validate()
}
