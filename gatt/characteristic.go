package gatt

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Do not re-order the bit flags below;
// they match the characteristic properties octet.

// Characteristic property flags.
const (
	charRead     = 1 << (iota + 1) // the characteristic may be read
	charWriteNR                    // the characteristic may be written to, with no reply
	charWrite                      // the characteristic may be written to, with a reply
	charNotify                     // the characteristic supports notifications
	charIndicate                   // the characteristic supports indications
)

// Supported statuses for GATT characteristic read/write operations.
const (
	StatusSuccess         = attEcodeSuccess
	StatusInvalidOffset   = attEcodeInvalidOffset
	StatusInvalidLength   = attEcodeInvalAttrValueLen
	StatusUnexpectedError = attEcodeUnlikely

	// Control point statuses.
	StatusMissingCRC           = attEcodeMissingCRC
	StatusInvalidCRC           = attEcodeInvalidCRC
	StatusCCCDImproperlyConfig = attEcodeCCCImproperlyConfig
	StatusProcedureInProgress  = attEcodeProcAlreadyRunning
	StatusOutOfRange           = attEcodeOutOfRange
)

// A Request is the context for a request from a connected device.
type Request struct {
	Conn           Conn
	Service        *Service
	Characteristic *Characteristic
}

// A ReadRequest is a characteristic read request from a connected device.
type ReadRequest struct {
	Request
	Cap    int // maximum allowed reply length
	Offset int // request value offset
}

type ReadResponseWriter interface {
	// Write writes data to return as the characteristic value.
	Write([]byte) (int, error)
	// SetStatus reports the result of the read operation. See the Status* constants.
	SetStatus(byte)
}

// A ReadHandler handles GATT read requests.
type ReadHandler interface {
	ServeRead(resp ReadResponseWriter, req *ReadRequest)
}

// ReadHandlerFunc is an adapter to allow the use of
// ordinary functions as ReadHandlers.
type ReadHandlerFunc func(resp ReadResponseWriter, req *ReadRequest)

// ServeRead calls f(resp, req).
func (f ReadHandlerFunc) ServeRead(resp ReadResponseWriter, req *ReadRequest) {
	f(resp, req)
}

// A WriteHandler handles GATT write requests.
// Write and WriteNR requests are presented identically;
// the server will ensure that a response is sent if appropriate.
type WriteHandler interface {
	ServeWrite(r Request, data []byte) (status byte)
}

// WriteHandlerFunc is an adapter to allow the use of
// ordinary functions as WriteHandlers.
type WriteHandlerFunc func(r Request, data []byte) byte

// ServeWrite returns f(r, data).
func (f WriteHandlerFunc) ServeWrite(r Request, data []byte) byte {
	return f(r, data)
}

// A NotifyHandler handles GATT notification and indication
// subscriptions. Values can be sent using the provided notifier.
type NotifyHandler interface {
	ServeNotify(r Request, n Notifier)
}

// NotifyHandlerFunc is an adapter to allow the use of
// ordinary functions as NotifyHandlers.
type NotifyHandlerFunc func(r Request, n Notifier)

// ServeNotify calls f(r, n).
func (f NotifyHandlerFunc) ServeNotify(r Request, n Notifier) {
	f(r, n)
}

// A Notifier provides a means for a GATT server to send
// notifications or indications about value changes to a
// connected device. Notifiers are provided by NotifyHandlers.
type Notifier interface {
	// Write sends data to the central.
	Write(data []byte) (int, error)

	// Done reports whether the central has requested not to
	// receive any more values with this notifier.
	Done() bool

	// Cap returns the maximum number of bytes that may be sent
	// in a single notification.
	Cap() int

	// Indicate reports whether values are sent as indications.
	Indicate() bool
}

// A Characteristic is a BLE characteristic.
type Characteristic struct {
	uuid     UUID
	props    uint   // enabled properties
	value    []byte // static value
	descs    []*desc
	valuen   uint16 // handle; set during generateHandles, needed when notifying
	cccn     uint16 // client characteristic configuration handle, 0 if none
	rhandler ReadHandler
	whandler WriteHandler
	nhandler NotifyHandler

	// storage used by other types
	service *Service
}

// HandleRead makes the characteristic support read requests,
// and routes read requests to h. HandleRead must be called
// before any server using c has been started.
func (c *Characteristic) HandleRead(h ReadHandler) {
	c.props |= charRead
	c.rhandler = h
}

// HandleReadFunc calls HandleRead(ReadHandlerFunc(f)).
func (c *Characteristic) HandleReadFunc(f func(resp ReadResponseWriter, req *ReadRequest)) {
	c.HandleRead(ReadHandlerFunc(f))
}

// SetValue makes the characteristic readable with the static value b.
func (c *Characteristic) SetValue(b []byte) {
	c.props |= charRead
	c.value = b
}

// HandleWrite makes the characteristic support write and
// write-no-response requests, and routes write requests to h.
// HandleWrite must be called before any server using c has been started.
func (c *Characteristic) HandleWrite(h WriteHandler) {
	c.props |= charWrite | charWriteNR
	c.whandler = h
}

// HandleWriteFunc calls HandleWrite(WriteHandlerFunc(f)).
func (c *Characteristic) HandleWriteFunc(f func(r Request, data []byte) (status byte)) {
	c.HandleWrite(WriteHandlerFunc(f))
}

// HandleNotify makes the characteristic support notify requests,
// and routes notification requests to h. HandleNotify must be called
// before any server using c has been started.
func (c *Characteristic) HandleNotify(h NotifyHandler) {
	c.props |= charNotify
	c.nhandler = h
}

// HandleNotifyFunc calls HandleNotify(NotifyHandlerFunc(f)).
func (c *Characteristic) HandleNotifyFunc(f func(r Request, n Notifier)) {
	c.HandleNotify(NotifyHandlerFunc(f))
}

// HandleIndicate makes the characteristic support indications.
// Subscriptions are routed to h exactly like notifications; the
// notifier passed to h reports Indicate() == true.
func (c *Characteristic) HandleIndicate(h NotifyHandler) {
	c.props |= charIndicate
	c.nhandler = h
}

// HandleIndicateFunc calls HandleIndicate(NotifyHandlerFunc(f)).
func (c *Characteristic) HandleIndicateFunc(f func(r Request, n Notifier)) {
	c.HandleIndicate(NotifyHandlerFunc(f))
}

// UUID returns the characteristic's UUID
func (c *Characteristic) UUID() UUID {
	return c.uuid
}

// ValueHandle returns the handle of the characteristic value.
// It is zero until a server has generated handles.
func (c *Characteristic) ValueHandle() uint16 { return c.valuen }

// ConfigHandle returns the handle of the client characteristic
// configuration descriptor, or zero if c neither notifies nor indicates.
func (c *Characteristic) ConfigHandle() uint16 { return c.cccn }

func (c *Characteristic) generateHandles(n uint16) (uint16, []handle) {
	valuen := n + 1
	decl := []byte{byte(c.props)}
	decl = binary.LittleEndian.AppendUint16(decl, valuen)
	decl = append(decl, c.uuid.b...)

	hh := []handle{
		{
			typ:    typCharacteristic,
			n:      n,
			uuid:   c.uuid,
			attr:   c,
			startn: n,
			valuen: valuen,
			props:  c.props,
			value:  decl,
		},
		{
			typ:   typCharacteristicValue,
			n:     valuen,
			uuid:  c.uuid,
			attr:  c,
			props: c.props,
			value: c.value,
		},
	}
	c.valuen = valuen
	n = valuen

	if c.props&(charNotify|charIndicate) != 0 {
		n++
		c.cccn = n
		d := &desc{uuid: gattAttrClientCharacteristicConfigUUID, char: c, ccc: true}
		hh = append(hh, d.handle(n))
	}
	for _, d := range c.descs {
		n++
		hh = append(hh, d.handle(n))
	}
	return n, hh
}

// readResponseWriter is the default implementation of ReadResponseWriter.
type readResponseWriter struct {
	capacity int
	buf      *bytes.Buffer
	status   byte
}

func newReadResponseWriter(c int) *readResponseWriter {
	return &readResponseWriter{
		capacity: c,
		buf:      new(bytes.Buffer),
		status:   StatusSuccess,
	}
}

func (w *readResponseWriter) Write(b []byte) (int, error) {
	if avail := w.capacity - w.buf.Len(); avail < len(b) {
		return 0, fmt.Errorf("requested write %d bytes, %d available", len(b), avail)
	}
	return w.buf.Write(b)
}

func (w *readResponseWriter) SetStatus(status byte) { w.status = status }
func (w *readResponseWriter) bytes() []byte         { return w.buf.Bytes() }
