// Package gatt provides a Bluetooth Low Energy GATT server.
//
// Gatt (Generic Attribute Profile) is the protocol used to write
// BLE peripherals (servers) and centrals (clients).
//
// The server owns the attribute table and a single serving goroutine.
// Reads, writes, subscriptions and tasks handed to Post all run on that
// goroutine, so handlers may share state without locking. Link traffic
// arrives through a Transport; Loopback is an in-process transport used
// for simulation and tests.
//
// USAGE
//
// Gatt servers are constructed by creating a new server, adding
// services and characteristics, and then serving a transport.
//
//     srv := gatt.NewServer(gatt.Name("gophergatt"))
//     svc := srv.AddService(gatt.MustParseUUID("09fc95c0-c111-11e3-9904-0002a5d5c51b"))
//
//     // Add a read characteristic that prints how many times it has been read
//     n := 0
//     rchar := svc.AddCharacteristic(gatt.MustParseUUID("11fac9e0-c111-11e3-9246-0002a5d5c51b"))
//     rchar.HandleReadFunc(
//     	func(resp gatt.ReadResponseWriter, req *gatt.ReadRequest) {
//     		fmt.Fprintf(resp, "count: %d", n)
//     		n++
//     	})
//
//     // Add a control point that answers every write with an indication
//     cp := svc.AddCharacteristic(gatt.UUID16(0x2A52))
//     cp.HandleWriteFunc(
//     	func(r gatt.Request, data []byte) (status byte) {
//     		log.Println("Wrote:", data)
//     		return gatt.StatusSuccess
//     	})
//     cp.HandleIndicateFunc(func(r gatt.Request, n gatt.Notifier) {})
//
//     lb := gatt.NewLoopback()
//     log.Fatal(srv.Serve(ctx, lb))
//
// Characteristics that notify or indicate get a client characteristic
// configuration descriptor automatically, directly after their value.
package gatt
