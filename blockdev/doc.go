// Package blockdev presents a window of on-chip flash as a FAT formatted
// block device.
//
// A [Device] routes each 512-byte block to one of two backends. Blocks
// below the synthetic boundary are FAT metadata and static files computed
// by [fatimg.Image]; the remaining blocks are the flash window itself,
// reached through a single-page [flash.PageCache]:
//
//	block index            backend
//	0 .. synthetic-1       fatimg.Image.ReadBlock (writes follow WritePolicy)
//	synthetic .. count-1   flash at MinAddress + (index-synthetic)*512
//
// Flash writes are staged in the page cache and committed when the host
// moves to another page, when the host asks for a cache flush, or once
// the cache has been dirty and idle for Config.IdleFlush milliseconds as
// measured by [Device.Tick]. A [Ticker] drives Tick on a fixed period.
//
// Device implements [msc.Storage], so it can be served directly by the
// SCSI command layer; the USB path and the tick path serialize on one
// mutex.
package blockdev
