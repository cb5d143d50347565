// Package snapshot exports a mapping image to a blob store and restores it.
//
// A snapshot is a single object:
//
//	[header 32B][compressed image]
//
// The header records the codec, the raw image length and a CRC32C of the raw
// image, and is itself protected by a CRC32C. Export compresses and uploads
// concurrently through a pipe; Restore decompresses into a temporary file
// that is renamed into place only after the checksum matched.
package snapshot
