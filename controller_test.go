package twai

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// fakeDriver records calls and returns scripted results.
type fakeDriver struct {
	calls []string
	errs  map[string]error

	general GeneralConfig
	timing  TimingConfig
	filter  FilterConfig
	status  Status
	rx      Frame
	sent    []Frame
	resets  []int8
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{errs: make(map[string]error)}
}

func (d *fakeDriver) call(op string) error {
	d.calls = append(d.calls, op)
	return d.errs[op]
}

func (d *fakeDriver) Install(g GeneralConfig, t TimingConfig, f FilterConfig) error {
	d.general, d.timing, d.filter = g, t, f
	return d.call("install")
}
func (d *fakeDriver) Uninstall() error        { return d.call("uninstall") }
func (d *fakeDriver) Start() error            { return d.call("start") }
func (d *fakeDriver) Stop() error             { return d.call("stop") }
func (d *fakeDriver) InitiateRecovery() error { return d.call("recovery") }

func (d *fakeDriver) Transmit(f *Frame, timeout time.Duration) error {
	if err := d.call("transmit"); err != nil {
		return err
	}
	d.sent = append(d.sent, *f)
	return nil
}

func (d *fakeDriver) Receive(f *Frame, timeout time.Duration) error {
	if err := d.call("receive"); err != nil {
		return err
	}
	*f = d.rx
	return nil
}

func (d *fakeDriver) StatusInfo() (Status, error) {
	if err := d.call("status"); err != nil {
		return Status{}, err
	}
	return d.status, nil
}

func (d *fakeDriver) ResetPin(pin int8) { d.resets = append(d.resets, pin) }

func TestController_Defaults(t *testing.T) {
	d := newFakeDriver()
	c := New(d)
	if c.Speed() != Speed500K || c.SpeedNumeric() != 500 {
		t.Fatalf("default speed = %v (%d)", c.Speed(), c.SpeedNumeric())
	}
	if tx, rx := c.Pins(); tx != 5 || rx != 4 {
		t.Fatalf("default pins = %d/%d", tx, rx)
	}
	if tx, rx := c.QueueSizes(); tx != 5 || rx != 5 {
		t.Fatalf("default queues = %d/%d", tx, rx)
	}
	if c.Active() {
		t.Fatalf("new controller must be inactive")
	}

	d.errs["status"] = ErrInvalidState
	if c.InTxQueue() != 0 || c.InRxQueue() != 0 {
		t.Fatalf("queues before start should read 0")
	}
}

func TestController_Options(t *testing.T) {
	c := New(newFakeDriver(),
		WithSpeed(Speed12_5K),
		WithChip(ChipESP32Rev3),
		WithPins(21, -1),
		WithQueueSizes(16, QueueKeep),
	)
	if c.Speed() != Speed12_5K {
		t.Fatalf("speed = %v", c.Speed())
	}
	if tx, rx := c.Pins(); tx != 21 || rx != DefaultRxPin {
		t.Fatalf("pins = %d/%d", tx, rx)
	}
	if tx, rx := c.QueueSizes(); tx != 16 || rx != DefaultRxQueue {
		t.Fatalf("queues = %d/%d", tx, rx)
	}
}

func TestController_QueueSentinel(t *testing.T) {
	c := New(newFakeDriver())
	c.SetTxQueueSize(12)
	c.SetRxQueueSize(0)
	c.SetTxQueueSize(QueueKeep)
	c.SetRxQueueSize(QueueKeep)
	if tx, rx := c.QueueSizes(); tx != 12 || rx != 0 {
		t.Fatalf("queues = %d/%d", tx, rx)
	}
}

func TestController_SetPins(t *testing.T) {
	cases := []struct {
		name           string
		tx, rx         int8
		want           bool
		wantTx, wantRx int8
	}{
		{"both valid", 3, 5, true, 3, 5},
		{"tx invalid keeps rx", -1, 5, false, DefaultTxPin, 5},
		{"rx invalid keeps tx", 3, -1, false, 3, DefaultRxPin},
		{"both invalid", -1, -2, false, DefaultTxPin, DefaultRxPin},
	}
	for _, tc := range cases {
		c := New(newFakeDriver())
		if got := c.SetPins(tc.tx, tc.rx); got != tc.want {
			t.Fatalf("%s: SetPins = %v want %v", tc.name, got, tc.want)
		}
		if tx, rx := c.Pins(); tx != tc.wantTx || rx != tc.wantRx {
			t.Fatalf("%s: pins = %d/%d want %d/%d", tc.name, tx, rx, tc.wantTx, tc.wantRx)
		}
	}
}

func TestController_SetPinsWhileActive(t *testing.T) {
	c := New(newFakeDriver())
	if !c.StartDefault() {
		t.Fatalf("start failed")
	}
	if c.SetPins(7, 8) {
		t.Fatalf("SetPins on an active bus must report false")
	}
	if tx, rx := c.Pins(); tx != 7 || rx != 8 {
		t.Fatalf("pins still applied, got %d/%d", tx, rx)
	}
}

func TestController_StartBuildsPresets(t *testing.T) {
	d := newFakeDriver()
	c := New(d)
	if !c.Start(Speed250K, 17, 18, 10, 20, nil) {
		t.Fatalf("start failed")
	}
	if !c.Active() {
		t.Fatalf("controller should be active")
	}
	wantG := GeneralConfig{
		Mode:       ModeNormal,
		TxIO:       17,
		RxIO:       18,
		ClkOutIO:   IOUnused,
		BusOffIO:   IOUnused,
		TxQueueLen: 10,
		RxQueueLen: 20,
		Alerts:     AlertNone,
		IntrFlags:  IntrFlagLevel1,
	}
	if diff := cmp.Diff(wantG, d.general); diff != "" {
		t.Fatalf("general config (-want +got):\n%s", diff)
	}
	wantT, _ := TimingPreset(Speed250K)
	if diff := cmp.Diff(wantT, d.timing); diff != "" {
		t.Fatalf("timing config (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(FilterAcceptAll(), d.filter); diff != "" {
		t.Fatalf("filter config (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int8{18, 17}, d.resets); diff != "" {
		t.Fatalf("pin resets (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"install", "start"}, d.calls); diff != "" {
		t.Fatalf("calls (-want +got):\n%s", diff)
	}
}

func TestController_StartOverrides(t *testing.T) {
	d := newFakeDriver()
	c := New(d)
	g := GeneralConfig{Mode: ModeListenOnly, TxIO: 1, RxIO: 2, RxQueueLen: 64}
	tm := TimingConfig{BRP: 2, TSeg1: 15, TSeg2: 4, SJW: 1}
	f := FilterSingleStd(0x100, 0x7FF)
	if !c.Start(SpeedSize, -1, -1, QueueKeep, QueueKeep, &Overrides{General: &g, Timing: &tm, Filter: &f}) {
		t.Fatalf("start failed")
	}
	if diff := cmp.Diff(g, d.general); diff != "" {
		t.Fatalf("general override (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(tm, d.timing); diff != "" {
		t.Fatalf("timing override (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(f, d.filter); diff != "" {
		t.Fatalf("filter override (-want +got):\n%s", diff)
	}
	// Sentinels keep the configured values.
	if c.Speed() != DefaultSpeed {
		t.Fatalf("speed changed to %v", c.Speed())
	}
}

func TestController_StartRestartsRunningBus(t *testing.T) {
	d := newFakeDriver()
	c := New(d)
	c.StartDefault()
	d.calls = nil
	if !c.Start(Speed1M, -1, -1, QueueKeep, QueueKeep, nil) {
		t.Fatalf("second start failed")
	}
	if diff := cmp.Diff([]string{"stop", "uninstall", "install", "start"}, d.calls); diff != "" {
		t.Fatalf("calls (-want +got):\n%s", diff)
	}
	if c.Speed() != Speed1M {
		t.Fatalf("speed = %v", c.Speed())
	}
}

func TestController_StartAbortsWhenStopFails(t *testing.T) {
	d := newFakeDriver()
	c := New(d)
	c.StartDefault()
	d.errs["uninstall"] = ErrInvalidState
	d.calls = nil
	if c.Start(Speed1M, -1, -1, QueueKeep, QueueKeep, nil) {
		t.Fatalf("start should fail when stop fails")
	}
	if diff := cmp.Diff([]string{"stop", "uninstall"}, d.calls); diff != "" {
		t.Fatalf("calls (-want +got):\n%s", diff)
	}
	if c.Speed() != DefaultSpeed {
		t.Fatalf("aborted start must not apply settings")
	}
	if !c.Active() {
		t.Fatalf("controller must stay active while the driver is still installed")
	}
}

func TestController_StartInstallFailure(t *testing.T) {
	d := newFakeDriver()
	d.errs["install"] = ErrInvalidArg
	c := New(d)
	if c.StartDefault() {
		t.Fatalf("start should fail")
	}
	if c.Active() {
		t.Fatalf("failed start must leave controller inactive")
	}
	if diff := cmp.Diff([]string{"install", "stop", "uninstall"}, d.calls); diff != "" {
		t.Fatalf("calls (-want +got):\n%s", diff)
	}
}

func TestController_StartFailureWhenUninstallRefuses(t *testing.T) {
	d := newFakeDriver()
	d.errs["start"] = ErrFail
	d.errs["uninstall"] = ErrInvalidState
	c := New(d)
	if c.StartDefault() || c.Active() {
		t.Fatalf("failed start must leave controller inactive")
	}
}

func TestController_StopIdempotent(t *testing.T) {
	d := newFakeDriver()
	c := New(d)
	c.StartDefault()
	d.calls = nil
	if !c.Stop() || !c.Stop() {
		t.Fatalf("stop should succeed twice")
	}
	if diff := cmp.Diff([]string{"stop", "uninstall"}, d.calls); diff != "" {
		t.Fatalf("second stop must not touch the driver (-want +got):\n%s", diff)
	}
}

// The stop result is logged but not returned: only uninstall decides.
func TestController_StopResultFollowsUninstall(t *testing.T) {
	d := newFakeDriver()
	c := New(d)
	c.StartDefault()
	d.errs["stop"] = ErrInvalidState
	if !c.Stop() {
		t.Fatalf("stop failure alone must not fail Stop")
	}
	if c.Active() {
		t.Fatalf("controller should be inactive after uninstall")
	}

	c.StartDefault()
	d.errs = map[string]error{"uninstall": ErrFail}
	if c.Stop() {
		t.Fatalf("uninstall failure must fail Stop")
	}
	if !c.Active() {
		t.Fatalf("controller stays active when uninstall fails")
	}
}

func TestController_FrameIO(t *testing.T) {
	d := newFakeDriver()
	c := New(d)
	if c.ReadFrame(nil, 0) || c.WriteFrame(nil, 0) {
		t.Fatalf("nil frames must be rejected")
	}
	if len(d.calls) != 0 {
		t.Fatalf("nil frames must not reach the driver: %v", d.calls)
	}

	d.rx = MustFrame(0x42, []byte{9})
	var got Frame
	if !c.ReadFrame(&got, 0) || got != d.rx {
		t.Fatalf("read = %+v", got)
	}
	out := MustFrame(0x43, []byte{1, 2})
	if !c.WriteFrame(&out, DefaultWriteTimeout) || len(d.sent) != 1 || d.sent[0] != out {
		t.Fatalf("write failed: %+v", d.sent)
	}

	d.errs["receive"] = ErrTimeout
	d.errs["transmit"] = ErrTimeout
	if c.ReadFrame(&got, 0) || c.WriteFrame(&out, 0) {
		t.Fatalf("driver errors must report false")
	}
}

func TestController_StatusAccessors(t *testing.T) {
	d := newFakeDriver()
	d.status = Status{
		State:          StateRunning,
		MsgsToTx:       1,
		MsgsToRx:       2,
		TxErrorCounter: 3,
		RxErrorCounter: 4,
		TxFailedCount:  5,
		RxMissedCount:  6,
		BusErrorCount:  7,
	}
	c := New(d)
	got := []uint32{c.InTxQueue(), c.InRxQueue(), c.TxErrorCounter(), c.RxErrorCounter(),
		c.TxFailedCounter(), c.RxMissedCounter(), c.BusErrCounter(), uint32(c.CanState())}
	if diff := cmp.Diff([]uint32{1, 2, 3, 4, 5, 6, 7, uint32(StateRunning)}, got); diff != "" {
		t.Fatalf("accessors (-want +got):\n%s", diff)
	}

	d.errs["status"] = errors.New("boom")
	got = []uint32{c.InTxQueue(), c.InRxQueue(), c.TxErrorCounter(), c.RxErrorCounter(),
		c.TxFailedCounter(), c.RxMissedCounter(), c.BusErrCounter(), uint32(c.CanState())}
	if diff := cmp.Diff(make([]uint32, 8), got); diff != "" {
		t.Fatalf("failed fetch should read zero (-want +got):\n%s", diff)
	}
	if _, ok := c.StatusInfo(); ok {
		t.Fatalf("StatusInfo should expose the failed fetch")
	}
}

func TestController_Recover(t *testing.T) {
	cases := []struct {
		name      string
		state     State
		statusErr error
		recErr    error
		want      bool
		wantCall  bool
	}{
		{"bus off", StateBusOff, nil, nil, true, true},
		{"bus off, recovery refused", StateBusOff, nil, ErrInvalidState, false, true},
		{"recovering", StateRecovering, nil, nil, true, false},
		{"stopped", StateStopped, nil, nil, true, false},
		{"running", StateRunning, nil, nil, false, false},
		{"unknown state", State(9), nil, nil, false, false},
		{"status failure", StateBusOff, ErrFail, nil, false, false},
	}
	for _, tc := range cases {
		d := newFakeDriver()
		d.status.State = tc.state
		d.errs["status"] = tc.statusErr
		d.errs["recovery"] = tc.recErr
		c := New(d)
		if got := c.Recover(); got != tc.want {
			t.Fatalf("%s: Recover = %v want %v", tc.name, got, tc.want)
		}
		called := len(d.calls) > 1 && d.calls[1] == "recovery"
		if called != tc.wantCall {
			t.Fatalf("%s: recovery called = %v, calls %v", tc.name, called, d.calls)
		}
	}
}

func TestController_Restart(t *testing.T) {
	for _, st := range []State{StateRunning, StateBusOff, StateRecovering, State(7)} {
		d := newFakeDriver()
		d.status.State = st
		if New(d).Restart() {
			t.Fatalf("restart in %v should fail", st)
		}
		if diff := cmp.Diff([]string{"status"}, d.calls); diff != "" {
			t.Fatalf("restart in %v must not start (-want +got):\n%s", st, diff)
		}
	}

	d := newFakeDriver()
	d.status.State = StateStopped
	if !New(d).Restart() {
		t.Fatalf("restart from stopped should succeed")
	}
	d.errs["start"] = ErrInvalidState
	if New(d).Restart() {
		t.Fatalf("restart should report driver start failure")
	}
	d.errs = map[string]error{"status": ErrFail}
	if New(d).Restart() {
		t.Fatalf("restart should fail without status")
	}
}
