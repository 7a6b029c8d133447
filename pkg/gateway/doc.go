// Package gateway bridges one client WebSocket to one live agent runtime.
//
// Each accepted connection resolves a tutoring session, opens a runtime,
// pushes a single context frame, and then runs two duties concurrently:
// upstream decodes client frames into the request queue, downstream relays
// runtime audio and transcriptions back to the client. Whichever duty ends
// first triggers a teardown that runs exactly once and releases the queue,
// the transport and the runtime.
//
// Invariants:
// - The context frame is the first entry in the request queue.
// - Client frames reach the queue in arrival order; malformed frames are
//   logged and skipped without ending the session.
// - Session state only moves forward:
//   CONSTRUCTING, ACTIVE, DRAINING, CLOSED.
//
// Usage:
//
//	h, _ := gateway.NewHandler(gateway.HandlerConfig{Resolver: store, Connector: conn})
//	srv, _ := gateway.NewServer(gateway.Config{Port: 8004, Handler: h})
//	_ = srv.Start()
//	defer srv.Stop()
package gateway
