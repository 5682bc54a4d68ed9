// Package debug is the IDE side of the DBGP debugger protocol.
//
// Engines connect to a Listener (directly or through a DBGP proxy the
// ProxyClient registers with). Each connection becomes a Session once its
// init packet passes the idekey and protocol_version checks.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│                           Manager                               │
//	│  - Listener: accept goroutine, interrupt probe, accept timeout  │
//	│  - ProxyClient: proxyinit / proxystop with back-off             │
//	│  - Applications: sessions grouped by appid                      │
//	│  - Store: master breakpoint list, per-session queues            │
//	└─────────────────────────────────────────────────────────────────┘
//	                              │
//	                              ▼
//	┌─────────────────────────────────────────────────────────────────┐
//	│                           Session                               │
//	│  - reader goroutine: responses, streams, notifications          │
//	│  - event goroutine: status/stack/locals after every stop        │
//	│  - commands correlated by transaction id                        │
//	└─────────────────────────────────────────────────────────────────┘
//
// # Session States
//
// A session follows the engine status: starting, running, break,
// interactive, stopping and stopped. Resume sends a continuation command
// whose response only arrives at the next stop; until then commands that
// need a suspended engine fail with ErrNotAvailable.
//
// # Breakpoints
//
// The Store owns breakpoint definitions. Attached sessions only hold the
// id their engine assigned. Changes made while a session runs are queued
// and replayed in order before the session is next inspected or resumed.
//
// # Usage
//
//	m := debug.NewManager(debug.ManagerConfig{
//	    Address: "localhost:9000",
//	    IDEKey:  "dbgpd",
//	    Handlers: debug.SessionHandlers{
//	        OnBreak: func(s *debug.Session, snap *debug.Snapshot) {
//	            // inspect snap.Stack, then s.Resume(ctx, debug.ResumeRun)
//	        },
//	    },
//	})
//	if err := m.Listen(ctx); err != nil {
//	    return err
//	}
//	defer m.Shutdown(context.Background())
//	_, _ = m.Store().AddLine(ctx, "lua", "/src/main.lua", 12)
//	return m.Serve(ctx)
package debug
