// Package device is the terminal client side of session arbitration.
//
// It owns the durable flag store of one device, logs in against sessiond and
// runs the arbitration machine with its collaborators: the signal bus fed by
// the bridged HTTP client, the realtime media session, the verification probe
// and the text presenter.
package device
