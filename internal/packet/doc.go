// Package packet implements the fixed 20-byte skin cell frame format: node id
// lanes, the six-word 7-bit lane codec shared by event bursts, and the LED
// command frame.
//
// Encoders always produce conformant frames. Decoders assume conformant input
// and index fixed offsets directly; callers must run CheckFrame on anything
// received from the network first.
package packet
