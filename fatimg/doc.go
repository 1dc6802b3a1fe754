// Package fatimg synthesizes the metadata of a FAT12/FAT16 volume whose
// only real content is a window of on-chip flash.
//
// No filesystem structure is stored anywhere. The boot sector, both FAT
// copies, the root directory, and the contents of a few small static files
// are computed from a fixed set of [Params] every time a block is read, so
// an [Image] is immutable after [New] and safe to share.
//
// # Volume layout
//
//	block 0                      boot sector (BPB)
//	ReservedSectors..            FAT copies (NumFATs x SectorsPerFAT)
//	RootStart..                  root directory (RootEntries x 32 bytes)
//	DataStart..                  static files (INFO_UF2.TXT, INDEX.HTM, ...)
//	                             spare free clusters
//	SyntheticBlocks..TotalBlocks flash-backed file (CURRENT.BIN)
//
// Every block below SyntheticBlocks is synthesized by [Image.ReadBlock].
// The flash-backed file occupies exactly the remaining blocks, in order, so
// block SyntheticBlocks+i is byte offset i*512 of the flash window. Reading
// those blocks is the job of the caller.
//
// The FAT type follows from the cluster count: fewer than 4085 clusters is
// FAT12, fewer than 65525 is FAT16. Larger volumes are rejected.
package fatimg
