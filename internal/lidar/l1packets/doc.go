// Package l1packets owns Layer 1 (Packets) of the LiDAR data model.
//
// Responsibilities: byte sources (serial port, capture replay, PCAP,
// synthetic), frame synchronisation and packet parsing. This layer
// produces 12-point packets consumed by L2 (Frames).
//
// Dependency rule: L1 has no inward dependencies on higher layers.
//
// Subpackages:
//   - parse: sync marker search, packet decode/encode, CRC-8
//   - source: byte sources with open/close lifecycle
package l1packets
