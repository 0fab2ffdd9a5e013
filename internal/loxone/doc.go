// Package loxone implements the client protocol for the Loxone Miniserver.
//
// The client handles the four concerns the Miniserver protocol requires:
//
//   - Authentication: the getkey2/getjwt challenge/response handshake
//     (HMAC-SHA1 over the user and hashed password) producing a
//     short-lived session token.
//   - Structure discovery: fetching and parsing the LoxAPP3 structure
//     document into a flat registry of addressable controls, including
//     composite addressing for nested subcontrols.
//   - Command dispatch: translating high-level commands into
//     sps/io request paths and inspecting the response envelope.
//   - Event streaming: a persistent WebSocket that delivers asynchronous
//     state-change frames and survives unexpected closure with a
//     fixed-interval reconnect loop.
//
// # Usage
//
//	client := loxone.NewClient(loxone.Config{
//	    Host:     "192.168.1.77",
//	    Username: "admin",
//	    Password: password,
//	})
//	client.RegisterCallback(func(ev loxone.StateEvent) {
//	    log.Printf("%s = %v", ev.ControlUUID, ev.Value)
//	})
//	controls, err := client.Start(ctx)
//	if err != nil {
//	    return err
//	}
//	defer client.Stop()
//
// Setup failures (authentication, initial stream open) are returned from
// Start. Steady-state failures (stream closure, individual state reads)
// are absorbed, logged, and recovered from; the last known state cache
// is preserved across them.
package loxone
