package main

import (
	"log"
	"net"

	"github.com/mdlayher/vsock"
)

// listenVsock binds an AF_VSOCK listener on the given guest agent
// port (52 in production per the deployment contract). The hypervisor
// relays host connections from its vsock UDS into this socket.
func listenVsock(port uint32) (net.Listener, error) {
	lis, err := vsock.Listen(port, nil)
	if err != nil {
		return nil, err
	}
	log.Printf("agent: listening on vsock port %d", port)
	return lis, nil
}
