// Package dbgp holds the wire-level pieces of the DBGP debugger protocol
// shared by the engine and the IDE.
//
// Engine-to-IDE messages are framed as the decimal payload length, a NUL
// byte, the XML payload and a trailing NUL. IDE-to-engine commands are a
// single line of text terminated by NUL:
//
//	breakpoint_set -i 4 -t line -f file:///app/main.go -n 12
//	eval -i 5 -- JCVhICsgMQ==
//
// Line2Argv and ParseArgs turn a command line into options the engine can
// dispatch on, Command builds one on the IDE side, and Node parses the XML
// replies. Failures inside a response travel as *Error values carrying the
// numeric DBGP code.
package dbgp
