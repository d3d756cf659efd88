// Package protocol defines the reliable session wire protocol: session and
// message identities, action codes, headers, response codes and the
// datagram codec.
//
// Every datagram carries a SessionHeader. Open exchanges also carry a
// SessionParametersHeader with the negotiated window and the source and
// target partition headers. Responses carry a ProtocolResponseHeader.
package protocol
