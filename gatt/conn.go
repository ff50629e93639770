package gatt

import "net"

// A BDAddr (Bluetooth Device Address) is a hardware-addressed-based net.Addr.
type BDAddr struct{ net.HardwareAddr }

func (a BDAddr) Network() string { return "BLE" }

// DefaultMTU is the ATT MTU in effect before any exchange.
const DefaultMTU = 23

// A Conn is a link between the server and a connected central.
type Conn interface {
	// LocalAddr returns the address of the local device (peripheral).
	LocalAddr() BDAddr

	// RemoteAddr returns the address of the connected device (central).
	RemoteAddr() BDAddr

	// Close disconnects the connection.
	Close() error

	// MTU returns the current connection mtu.
	MTU() int
}
