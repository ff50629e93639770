package gatt

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Errors returned by Serve.
var (
	ErrServing         = errors.New("gatt: a server is already running")
	ErrTransportClosed = errors.New("gatt: transport closed")
)

// An EventType identifies what a transport event carries.
type EventType int

const (
	EventConnect EventType = iota
	EventDisconnect
	EventRead
	EventWrite
	EventDiscover
)

var eventNames = [...]string{"connect", "disconnect", "read", "write", "discover"}

func (t EventType) String() string {
	if int(t) < len(eventNames) {
		return eventNames[t]
	}
	return "unknown"
}

// An Event is a single link-layer occurrence delivered by a Transport.
// Reply is nil for events that take no response, such as a write
// without response. An EventDiscover carries the wire bytes of the
// primary service UUID in Data.
type Event struct {
	Type   EventType
	Conn   Conn
	Handle uint16
	Offset int
	Data   []byte
	Reply  func(status byte, value []byte)
}

// A Transport moves ATT traffic between a Server and its centrals.
// Notify and Indicate may be called from any goroutine. Indicate
// blocks until the central confirms the indication.
type Transport interface {
	Events() <-chan Event
	Notify(c Conn, h uint16, data []byte) error
	Indicate(c Conn, h uint16, data []byte) error
}

type subKey struct {
	conn Conn
	n    uint16
}

// A Server is a GATT server. All requests, subscriptions and posted
// tasks run on the goroutine calling Serve, so handlers never race
// with each other. Servers are single-shot types; once a Server has
// been closed, it cannot be restarted. Instead, create a new Server.
type Server struct {
	name       string
	connect    func(c Conn)
	disconnect func(c Conn)
	log        logrus.FieldLogger

	mu       sync.Mutex
	services []*Service
	handles  *handleRange
	t        Transport
	serving  bool

	subs     map[subKey]*notifier
	deferred []func()
	tasks    chan func()
	quit     chan struct{}
	inited   chan struct{}
	once     sync.Once
}

// NewServer creates a Server with the specified options.
// See also Server.Option.
func NewServer(opts ...option) *Server {
	s := &Server{
		subs:   make(map[subKey]*notifier),
		tasks:  make(chan func(), 64),
		quit:   make(chan struct{}),
		inited: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.log = l
	}
	return s
}

// AddService registers a new Service with the server.
// All services must be added before starting the server.
func (s *Server) AddService(u UUID) *Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.serving {
		return nil
	}
	svc := &Service{uuid: u}
	s.services = append(s.services, svc)
	return svc
}

// Serve generates the attribute table and handles events from t
// until ctx is done, Close is called or t's event channel closes.
func (s *Server) Serve(ctx context.Context, t Transport) error {
	s.mu.Lock()
	if s.serving {
		s.mu.Unlock()
		return ErrServing
	}
	s.serving = true
	s.t = t
	s.handles = generateHandles(s.name, s.services, uint16(1)) // ble handles start at 1
	s.mu.Unlock()

	close(s.inited)
	defer s.shutdown()
	s.log.WithField("attributes", len(s.handles.hh)).Info("gatt server serving")

	events := t.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.quit:
			return nil
		case e, ok := <-events:
			if !ok {
				return ErrTransportClosed
			}
			s.dispatch(e)
		case f := <-s.tasks:
			f()
			s.flush()
		}
	}
}

// Ready is closed once Serve has generated the attribute table.
func (s *Server) Ready() <-chan struct{} {
	return s.inited
}

// Post schedules f to run on the serving goroutine.
// It reports false if the server has stopped.
func (s *Server) Post(f func()) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.tasks <- f:
		return true
	case <-s.quit:
		return false
	}
}

// Defer schedules f to run on the serving goroutine once the event
// being handled has been answered. It may only be called from a handler
// or a posted task.
// Handlers use it to send indications that must follow their write response.
func (s *Server) Defer(f func()) {
	s.deferred = append(s.deferred, f)
}

// Close stops a Server.
func (s *Server) Close() error {
	s.once.Do(func() { close(s.quit) })
	return nil
}

func (s *Server) shutdown() {
	s.once.Do(func() { close(s.quit) })
	for k, n := range s.subs {
		n.stop()
		delete(s.subs, k)
	}
	s.log.Info("gatt server stopped")
}

func (s *Server) dispatch(e Event) {
	switch e.Type {
	case EventConnect:
		s.log.WithField("remote", addrString(e.Conn)).Debug("central connected")
		if s.connect != nil {
			s.connect(e.Conn)
		}
	case EventDisconnect:
		s.log.WithField("remote", addrString(e.Conn)).Debug("central disconnected")
		for k, n := range s.subs {
			if k.conn == e.Conn {
				n.stop()
				delete(s.subs, k)
			}
		}
		if s.disconnect != nil {
			s.disconnect(e.Conn)
		}
	case EventRead:
		status, v := s.read(e)
		reply(e, status, v)
	case EventWrite:
		reply(e, s.write(e), nil)
	case EventDiscover:
		status, v := s.discover(e)
		reply(e, status, v)
	default:
		s.log.WithField("type", e.Type).Warn("unknown transport event")
	}
	s.flush()
}

func (s *Server) flush() {
	for len(s.deferred) > 0 {
		f := s.deferred[0]
		s.deferred = s.deferred[1:]
		f()
	}
}

func reply(e Event, status byte, v []byte) {
	if e.Reply != nil {
		e.Reply(status, v)
	}
}

func mtu(c Conn) int {
	if c != nil && c.MTU() > DefaultMTU {
		return c.MTU()
	}
	return DefaultMTU
}

func (s *Server) read(e Event) (byte, []byte) {
	h, ok := s.handles.At(e.Handle)
	if !ok {
		return attEcodeInvalidHandle, nil
	}
	if h.props&charRead == 0 {
		return attEcodeReadNotPerm, nil
	}
	capacity := mtu(e.Conn) - 1

	value := h.value
	switch h.typ {
	case typCharacteristicValue:
		c := h.attr.(*Characteristic)
		if c.rhandler != nil {
			resp := newReadResponseWriter(capacity)
			req := &ReadRequest{
				Request: Request{Conn: e.Conn, Service: c.service, Characteristic: c},
				Cap:     capacity,
				Offset:  e.Offset,
			}
			c.rhandler.ServeRead(resp, req)
			return resp.status, resp.bytes()
		}
	case typDescriptor:
		if d := h.attr.(*desc); d.ccc {
			value = []byte{0, 0}
			if n, ok := s.subs[subKey{e.Conn, d.char.valuen}]; ok {
				value = n.cccValue()
			}
		}
	}

	if e.Offset > len(value) {
		return attEcodeInvalidOffset, nil
	}
	value = value[e.Offset:]
	if len(value) > capacity {
		value = value[:capacity]
	}
	return attEcodeSuccess, value
}

// discover lists the characteristics of the primary service whose UUID
// is in e.Data. Each entry is a length octet, the characteristic
// declaration value and the configuration descriptor handle, zero if
// there is none. The whole service goes out in one response.
func (s *Server) discover(e Event) (byte, []byte) {
	if lenErr(len(e.Data)) != nil {
		return attEcodeInvalidPDU, nil
	}
	u := UUID{append([]byte(nil), e.Data...)}

	var svc handle
	found := false
	for _, h := range s.handles.hh {
		if h.isPrimaryService(u) {
			svc, found = h, true
			break
		}
	}
	if !found {
		return attEcodeAttrNotFound, nil
	}

	var out []byte
	hh := s.handles.Subrange(svc.startn+1, svc.endn)
	for i, h := range hh {
		if h.typ != typCharacteristic {
			continue
		}
		c := h.char()
		var cccn uint16
		for _, d := range hh[i+1:] {
			if d.typ == typCharacteristic {
				break
			}
			if d.isDescriptor(gattAttrClientCharacteristicConfigUUID) && d.char() == c {
				cccn = d.n
			}
		}
		out = append(out, byte(len(h.value)+2))
		out = append(out, h.value...)
		out = binary.LittleEndian.AppendUint16(out, cccn)
	}
	return attEcodeSuccess, out
}

func (s *Server) write(e Event) byte {
	h, ok := s.handles.At(e.Handle)
	if !ok {
		return attEcodeInvalidHandle
	}
	if h.props&(charWrite|charWriteNR) == 0 {
		return attEcodeWriteNotPerm
	}
	switch h.typ {
	case typCharacteristicValue:
		c := h.attr.(*Characteristic)
		if c.whandler == nil {
			return attEcodeWriteNotPerm
		}
		return c.whandler.ServeWrite(Request{Conn: e.Conn, Service: c.service, Characteristic: c}, e.Data)
	case typDescriptor:
		d := h.attr.(*desc)
		if !d.ccc {
			return attEcodeWriteNotPerm
		}
		return s.configure(e.Conn, d.char, e.Data)
	}
	return attEcodeWriteNotPerm
}

// configure applies a client characteristic configuration write.
// The notify handler runs after the central has its write response.
func (s *Server) configure(conn Conn, c *Characteristic, data []byte) byte {
	if len(data) != 2 {
		return attEcodeInvalAttrValueLen
	}
	flags := binary.LittleEndian.Uint16(data)
	indicate := flags&gattCCCIndicateFlag != 0
	notify := flags&gattCCCNotifyFlag != 0
	if indicate && c.props&charIndicate == 0 || notify && c.props&charNotify == 0 {
		return attEcodeCCCImproperlyConfig
	}

	key := subKey{conn, c.valuen}
	if n, ok := s.subs[key]; ok {
		n.stop()
		delete(s.subs, key)
	}
	if !indicate && !notify {
		return attEcodeSuccess
	}

	n := newNotifier(s.t, conn, c, indicate)
	s.subs[key] = n
	s.log.WithFields(logrus.Fields{
		"uuid":     c.uuid.String(),
		"indicate": indicate,
	}).Debug("central subscribed")
	if c.nhandler != nil {
		s.Defer(func() {
			c.nhandler.ServeNotify(Request{Conn: conn, Service: c.service, Characteristic: c}, n)
		})
	}
	return attEcodeSuccess
}

func addrString(c Conn) string {
	if c == nil || c.RemoteAddr().HardwareAddr == nil {
		return ""
	}
	return c.RemoteAddr().String()
}

type option func(*Server) option

// Option sets the options specified.
// It returns an option to restore the last arg's previous value.
// Some options can only be set while the server is not running;
// they are best used with NewServer instead of Option.
func (s *Server) Option(opts ...option) (prev option) {
	for _, opt := range opts {
		prev = opt(s)
	}
	return prev
}

// Name sets the device name, exposed via the Generic Access Service (0x1800).
// Name cannot be called while serving.
func Name(n string) option {
	return func(s *Server) option {
		prev := s.name
		s.name = n
		return Name(prev)
	}
}

// Connect sets a function to be called when a device connects to the server.
func Connect(f func(c Conn)) option {
	return func(s *Server) option {
		prev := s.connect
		s.connect = f
		return Connect(prev)
	}
}

// Disconnect sets a function to be called when a device disconnects from the server.
func Disconnect(f func(c Conn)) option {
	return func(s *Server) option {
		prev := s.disconnect
		s.disconnect = f
		return Disconnect(prev)
	}
}

// Logger sets the logger used by the server.
func Logger(l logrus.FieldLogger) option {
	return func(s *Server) option {
		prev := s.log
		s.log = l
		return Logger(prev)
	}
}
