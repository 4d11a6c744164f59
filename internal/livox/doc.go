// Package livox owns the sensor session for a Livox Mid-360 point-cloud stream.
//
// Responsibilities: the vendor SDK boundary (SDK, Handlers), decoding of the
// sensor's Ethernet point packets, the bounded sample buffer that bridges the
// SDK's receive goroutine to a periodic consumer, and the synchronised session
// state (connection, identity, requested/active data type, status text).
//
// Dependency rule: this package has no dependency on the host loop, transport
// or storage packages. Drivers live in livox/network and livox/synthetic.
package livox
