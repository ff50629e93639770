package gatt

import (
	"errors"
	"sync"
)

// Errors returned by a Notifier's Write.
var (
	ErrNotifyStopped = errors.New("gatt: central stopped notifications")
	ErrNotifyTooLong = errors.New("gatt: value exceeds notification capacity")
)

type notifier struct {
	t        Transport
	conn     Conn
	char     *Characteristic
	maxlen   int
	indicate bool
	donemu   sync.RWMutex
	done     bool
}

func newNotifier(t Transport, c Conn, cc *Characteristic, indicate bool) *notifier {
	mtu := DefaultMTU
	if c != nil && c.MTU() > mtu {
		mtu = c.MTU()
	}
	// opcode plus handle
	return &notifier{t: t, conn: c, char: cc, maxlen: mtu - 3, indicate: indicate}
}

func (n *notifier) Write(data []byte) (int, error) {
	if n.Done() {
		return 0, ErrNotifyStopped
	}
	if len(data) > n.maxlen {
		return 0, ErrNotifyTooLong
	}
	var err error
	if n.indicate {
		err = n.t.Indicate(n.conn, n.char.valuen, data)
	} else {
		err = n.t.Notify(n.conn, n.char.valuen, data)
	}
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

func (n *notifier) Cap() int {
	return n.maxlen
}

func (n *notifier) Indicate() bool {
	return n.indicate
}

func (n *notifier) Done() bool {
	n.donemu.RLock()
	done := n.done
	n.donemu.RUnlock()
	return done
}

func (n *notifier) stop() {
	n.donemu.Lock()
	n.done = true
	n.donemu.Unlock()
}

func (n *notifier) cccValue() []byte {
	if n.indicate {
		return []byte{gattCCCIndicateFlag, 0}
	}
	return []byte{gattCCCNotifyFlag, 0}
}
