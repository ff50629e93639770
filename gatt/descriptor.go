package gatt

type desc struct {
	uuid  UUID
	value []byte // static value
	char  *Characteristic
	ccc   bool // client characteristic configuration
}

func (d *desc) handle(n uint16) handle {
	h := handle{
		typ:   typDescriptor,
		n:     n,
		uuid:  d.uuid,
		attr:  d,
		props: charRead,
		value: d.value,
	}
	if d.ccc {
		h.props |= charWrite
	}
	return h
}

func (d *desc) UUID() UUID {
	return d.uuid
}

// AddDescriptor adds a static, read-only descriptor to c.
// It must be called before any server using c has been started.
func (c *Characteristic) AddDescriptor(u UUID, value []byte) {
	c.descs = append(c.descs, &desc{uuid: u, value: value, char: c})
}
