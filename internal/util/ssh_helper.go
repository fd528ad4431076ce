package util

import (
	"fmt"
	"io"
	"net"
	"strings"

	log "github.com/sirupsen/logrus"
)

// outboundProbeAddr is only used to pick the local interface; no packet is sent over UDP dial.
const outboundProbeAddr = "8.8.8.8:80"

// getOutboundIP retrieves the preferred outbound IP address of this machine.
func getOutboundIP() (string, error) {
	conn, err := net.Dial("udp", outboundProbeAddr)
	if err != nil {
		return "", err
	}
	defer func() {
		if errClose := conn.Close(); errClose != nil {
			log.Warnf("Failed to close UDP connection: %v", errClose)
		}
	}()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("could not assert UDP address type")
	}
	return localAddr.IP.String(), nil
}

// GetIPAddress returns the outbound IP address of this machine, or 127.0.0.1
// when it cannot be determined.
func GetIPAddress() string {
	ip, err := getOutboundIP()
	if err != nil {
		log.Debugf("Failed to detect outbound IP: %v", err)
		return "127.0.0.1"
	}
	return ip
}

// WriteSSHTunnelInstructions prints the ssh -L command a user on another machine
// needs so that the browser redirect reaches the loopback callback listener.
func WriteSSHTunnelInstructions(w io.Writer, host string, port int) {
	if strings.TrimSpace(host) == "" {
		host = GetIPAddress()
	}
	border := strings.Repeat("=", 80)
	_, _ = fmt.Fprintln(w, "To authenticate from a remote machine, an SSH tunnel may be required.")
	_, _ = fmt.Fprintln(w, border)
	_, _ = fmt.Fprintln(w, "  Run the following command on the machine that has the browser:")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "  ssh -L %d:127.0.0.1:%d <user>@%s\n", port, port, host)
	_, _ = fmt.Fprintln(w, border)
}
