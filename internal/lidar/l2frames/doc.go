// Package l2frames owns Layer 2 (Frames) of the LiDAR data model.
//
// Responsibilities: assembling decoded packets into complete 360° scans.
// Key types: Scan, Assembler.
//
// Dependency rule: L2 may depend on L1 (l1packets/parse), never on the
// pipeline or its consumers.
package l2frames
