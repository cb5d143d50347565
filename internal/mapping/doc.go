// Package mapping owns a variable file: it creates or validates the file
// header, maps the file, grows it and coordinates access between goroutines
// and processes.
//
// File layout:
//
//	+-----------------+---------------------------+------------------------------+
//	| header (128 B)  | reserved directory block  | arena heap                   |
//	+-----------------+---------------------------+------------------------------+
//	0                 128                         heap_bottom        heap_top = mapped_size
//
// The header checksum covers only the fields fixed at creation (magic,
// version, heap_bottom, reserved slots, creation time). The mutable words are
// read and written atomically.
//
// Growth truncates the file to the new size first and publishes the new
// mapped_size last. Other processes notice the larger mapped_size the next
// time they take a lock and remap.
package mapping
