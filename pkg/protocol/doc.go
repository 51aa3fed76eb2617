// ABOUTME: Netaudio wire protocol package
// ABOUTME: Defines message variants, length-prefixed framing and peer connections
// Package protocol implements the netaudio TCP wire protocol.
//
// Each message is a JSON record preceded by its byte length in ASCII
// decimal and a newline:
//
//	25\n{"Speaker_Location":-0.5}
//
// Records map onto a closed set of variants (AudioPacket, LocationUpdate,
// LivenessProbe, LivenessResponse, ReadyAck). Unknown keys are ignored.
//
// Conn runs one send loop and one receive loop per socket. Liveness probes
// are answered directly from the receive loop without queueing.
//
// Example:
//
//	c := protocol.NewConn(netConn, protocol.ConnConfig{Logger: logger})
//	c.Start()
//	defer c.Stop()
//	c.Send(protocol.LocationUpdate{Location: -1})
package protocol
