// Package hash provides the hashing primitives persisted in mmvar files.
//
// # CRC32-Castagnoli (CRC32C)
//
// Header and snapshot checksums use CRC32C, which Go's hash/crc32 package
// accelerates with SSE4.2 on x86 and the CRC extension on ARM.
//
//	checksum := hash.CRC32C(data)
//
// # Name hashes
//
// Directory entries carry a farmhash32 of the variable name. Lookups compare
// the hash before the name bytes, so a linear scan over the directory touches
// 4 bytes per non-matching slot instead of up to 32.
package hash
