// Package twai provides a small facade over a CAN/TWAI peripheral driver.
//
// It includes:
//   - A Controller that caches speed, pins and queue sizes and forwards
//     lifecycle and frame I/O to a Driver
//   - Speed presets and the timing, general and filter configurations the
//     vendor driver expects
//   - A Frame type with validation and SocketCAN binary helpers
//   - Hardware acceptance filters and composable FrameFilter helpers
//   - A slog-based logging decorator for any Driver
//   - A Mux fanning received frames out to filtered subscribers
//   - An in-memory simulated driver for tests and host tooling
//
// A Linux SocketCAN driver lives in the socketcan subpackage and an
// interactive shell in cmd/twaictl.
package twai
