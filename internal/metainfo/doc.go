// Package metainfo implements the compact binary record ("info sidecar") that
// travels next to every compiled object in the cache.
//
// A sidecar describes what an object was built from and what it exports:
//
//	+----------------------+  offset 0
//	| magic "\x00bcinfo\n" |
//	| version "004\x00"    |
//	| flags, header size   |
//	| string pool size     |
//	| 6 list descriptors   |  {offset u32, count u32, item size u8, pad[3]}
//	+----------------------+  HeaderSize (92)
//	| dependency table     |  name u32 + SHA-1 [20]byte
//	| pragmas              |  key u32 + value u32
//	| object slots         |  slot u32
//	| export vars          |  name u32
//	| export funcs         |  name u32
//	| export foreach funcs |  name u32 + signature u32
//	+----------------------+
//	| string pool          |  NUL-terminated strings
//	+----------------------+
//
// All integers are little-endian. Lists are packed back to back in the order
// above and the string pool follows the last list. Readers reject files whose
// magic, version, header size or per-list item size differ from their own,
// which turns any format drift into a cache miss instead of a misparse.
package metainfo
