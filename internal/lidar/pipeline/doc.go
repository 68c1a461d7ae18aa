// Package pipeline runs scan assembly against a byte source and publishes
// completed scans to consumers.
//
// The Runner owns the assembler and its working buffer. Each complete scan
// is copied into an immutable Frame and swapped into place, so HTTP, gRPC
// and storage consumers always read the last whole revolution while the
// next one is being decoded. Failed scans are never published; whether the
// runner retries or stops is a Config decision, not the assembler's.
package pipeline
