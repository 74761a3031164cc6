package twai_test

import (
	"fmt"

	"github.com/notnil/twai"
)

func ExampleController() {
	bus := twai.NewSimBus()
	a := twai.New(bus.Open())
	b := twai.New(bus.Open())
	a.SetSpeed(a.ConvertSpeed(250))
	b.SetSpeed(b.ConvertSpeed(250))
	if !a.StartDefault() || !b.StartDefault() {
		return
	}
	defer a.Stop()
	defer b.Stop()

	out := twai.MustFrame(0x123, []byte("hi"))
	a.WriteFrame(&out, twai.DefaultWriteTimeout)

	var in twai.Frame
	if b.ReadFrame(&in, twai.DefaultReadTimeout) {
		fmt.Printf("%s at %dkbps\n", in, b.SpeedNumeric())
	}
	// Output: 123 [2] 68 69 at 250kbps
}
