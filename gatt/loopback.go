package gatt

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
)

var (
	// ErrNotConnected is returned for traffic on a link that has been torn down.
	ErrNotConnected = errors.New("gatt: not connected")
	// ErrBadDiscovery is returned for a malformed discovery response.
	ErrBadDiscovery = errors.New("gatt: malformed discovery response")
)

// A Loopback is an in-process Transport. Centrals dialed on it exchange
// ATT traffic with the server without a radio, which makes it suitable
// for simulation and tests.
type Loopback struct {
	events chan Event
	done   chan struct{}
	once   sync.Once
}

// NewLoopback returns a ready Loopback.
func NewLoopback() *Loopback {
	return &Loopback{
		events: make(chan Event),
		done:   make(chan struct{}),
	}
}

// Events implements Transport.
func (l *Loopback) Events() <-chan Event { return l.events }

// Notify implements Transport.
func (l *Loopback) Notify(c Conn, h uint16, data []byte) error {
	return l.deliver(c, h, data, false)
}

// Indicate implements Transport. The central confirms as soon as its
// handler returns.
func (l *Loopback) Indicate(c Conn, h uint16, data []byte) error {
	return l.deliver(c, h, data, true)
}

func (l *Loopback) deliver(c Conn, h uint16, data []byte, indication bool) error {
	central, ok := c.(*Central)
	if !ok || central.closed() {
		return ErrNotConnected
	}
	if central.handler != nil {
		central.handler(h, append([]byte(nil), data...), indication)
	}
	return nil
}

// Close shuts the loopback down; pending and future requests fail.
func (l *Loopback) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

// A ValueHandler receives notifications and indications on a Central.
// It runs on the goroutine that sent the value and must not issue requests.
type ValueHandler func(h uint16, data []byte, indication bool)

// Dial connects a new central to the loopback. It blocks until the
// server has accepted the connection or ctx is done.
func (l *Loopback) Dial(ctx context.Context, addr net.HardwareAddr, mtu int, handler ValueHandler) (*Central, error) {
	c := &Central{
		l:       l,
		addr:    BDAddr{addr},
		mtu:     mtu,
		handler: handler,
		down:    make(chan struct{}),
	}
	if err := l.send(ctx, Event{Type: EventConnect, Conn: c}); err != nil {
		return nil, err
	}
	return c, nil
}

func (l *Loopback) send(ctx context.Context, e Event) error {
	select {
	case l.events <- e:
		return nil
	case <-l.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// A Central is the client side of a loopback link. It implements Conn.
type Central struct {
	l       *Loopback
	addr    BDAddr
	mtu     int
	handler ValueHandler
	down    chan struct{}
	once    sync.Once
}

func (c *Central) LocalAddr() BDAddr  { return BDAddr{} }
func (c *Central) RemoteAddr() BDAddr { return c.addr }
func (c *Central) MTU() int           { return c.mtu }

// Close is Disconnect with a background context.
func (c *Central) Close() error {
	return c.Disconnect(context.Background())
}

func (c *Central) closed() bool {
	select {
	case <-c.down:
		return true
	default:
		return false
	}
}

type result struct {
	status byte
	value  []byte
}

func (c *Central) request(ctx context.Context, e Event) (result, error) {
	if c.closed() {
		return result{}, ErrNotConnected
	}
	ch := make(chan result, 1)
	e.Conn = c
	e.Reply = func(status byte, value []byte) {
		ch <- result{status, append([]byte(nil), value...)}
	}
	if err := c.l.send(ctx, e); err != nil {
		return result{}, err
	}
	select {
	case r := <-ch:
		return r, nil
	case <-c.l.done:
		return result{}, ErrNotConnected
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

// Read reads the attribute at handle h.
func (c *Central) Read(ctx context.Context, h uint16) ([]byte, error) {
	return c.ReadOffset(ctx, h, 0)
}

// ReadOffset reads the attribute at handle h starting at offset.
func (c *Central) ReadOffset(ctx context.Context, h uint16, offset int) ([]byte, error) {
	r, err := c.request(ctx, Event{Type: EventRead, Handle: h, Offset: offset})
	if err != nil {
		return nil, err
	}
	return r.value, statusErr(r.status)
}

// Write writes data to the attribute at handle h and waits for the
// response. A non-success status is returned as an ATTError.
func (c *Central) Write(ctx context.Context, h uint16, data []byte) error {
	r, err := c.request(ctx, Event{Type: EventWrite, Handle: h, Data: data})
	if err != nil {
		return err
	}
	return statusErr(r.status)
}

// WriteCommand writes data to the attribute at handle h without
// waiting for a response.
func (c *Central) WriteCommand(ctx context.Context, h uint16, data []byte) error {
	if c.closed() {
		return ErrNotConnected
	}
	return c.l.send(ctx, Event{Type: EventWrite, Conn: c, Handle: h, Data: data})
}

// A RemoteCharacteristic is a characteristic found by Discover.
type RemoteCharacteristic struct {
	uuid   UUID
	props  uint
	valuen uint16
	cccn   uint16
}

func (r *RemoteCharacteristic) UUID() UUID           { return r.uuid }
func (r *RemoteCharacteristic) ValueHandle() uint16  { return r.valuen }
func (r *RemoteCharacteristic) ConfigHandle() uint16 { return r.cccn }

// Notifies reports whether the characteristic supports notifications.
func (r *RemoteCharacteristic) Notifies() bool { return r.props&charNotify != 0 }

// Indicates reports whether the characteristic supports indications.
func (r *RemoteCharacteristic) Indicates() bool { return r.props&charIndicate != 0 }

// Discover returns the characteristics of the primary service u,
// in handle order.
func (c *Central) Discover(ctx context.Context, u UUID) ([]*RemoteCharacteristic, error) {
	r, err := c.request(ctx, Event{Type: EventDiscover, Data: u.Bytes()})
	if err != nil {
		return nil, err
	}
	if err := statusErr(r.status); err != nil {
		return nil, err
	}
	var out []*RemoteCharacteristic
	for b := r.value; len(b) > 0; {
		n := int(b[0])
		// properties, value handle and configuration handle around the uuid
		if n > len(b)-1 || lenErr(n-5) != nil {
			return nil, ErrBadDiscovery
		}
		e := b[1 : 1+n]
		out = append(out, &RemoteCharacteristic{
			props:  uint(e[0]),
			valuen: binary.LittleEndian.Uint16(e[1:]),
			uuid:   UUID{append([]byte(nil), e[3:n-2]...)},
			cccn:   binary.LittleEndian.Uint16(e[n-2:]),
		})
		b = b[1+n:]
	}
	return out, nil
}

// Configurable is a characteristic with a client characteristic
// configuration descriptor.
type Configurable interface {
	ConfigHandle() uint16
}

// Subscribe enables notifications, or indications if indicate is set,
// on characteristic ch.
func (c *Central) Subscribe(ctx context.Context, ch Configurable, indicate bool) error {
	flags := uint16(gattCCCNotifyFlag)
	if indicate {
		flags = gattCCCIndicateFlag
	}
	return c.Write(ctx, ch.ConfigHandle(), binary.LittleEndian.AppendUint16(nil, flags))
}

// Unsubscribe disables notifications and indications on ch.
func (c *Central) Unsubscribe(ctx context.Context, ch Configurable) error {
	return c.Write(ctx, ch.ConfigHandle(), []byte{0, 0})
}

// Disconnect tears the link down.
func (c *Central) Disconnect(ctx context.Context) error {
	var err error
	c.once.Do(func() {
		close(c.down)
		err = c.l.send(ctx, Event{Type: EventDisconnect, Conn: c})
	})
	return err
}
