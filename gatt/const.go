package gatt

// Assigned numbers from Bluetooth Core and the GATT assigned numbers list.

var (
	gattAttrGAPUUID  = UUID16(0x1800)
	gattAttrGATTUUID = UUID16(0x1801)

	gattAttrClientCharacteristicConfigUUID = UUID16(0x2902)

	gattAttrDeviceNameUUID = UUID16(0x2A00)
	gattAttrAppearanceUUID = UUID16(0x2A01)
)

// Generic glucose meter appearance (0x0D40).
var gapCharAppearanceGlucoseMeter = []byte{0x40, 0x0D}

// Client characteristic configuration bits.
const (
	gattCCCNotifyFlag   = 0x0001
	gattCCCIndicateFlag = 0x0002
)
