// Package realtime carries the media-signalling websocket of a device.
//
// The server side (Gateway) authenticates a hello with the session service and
// tears the connection down as soon as the session stops being authoritative.
// The client side (Session) is the media session the arbitration machine stops
// before it installs a new credential.
package realtime
