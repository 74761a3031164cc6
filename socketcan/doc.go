// Package socketcan implements twai.Driver on top of Linux SocketCAN.
//
// Link configuration (bitrate, queue length, listen-only and presume-ack
// modes, restarts) goes through the iproute2 ip tool; frames use a raw
// CAN socket. Most operations need CAP_NET_ADMIN.
package socketcan
