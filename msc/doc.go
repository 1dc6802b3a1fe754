// Package msc services the USB Mass Storage Bulk-Only Transport and its
// SCSI transparent command set over a block [Storage].
//
// The USB protocol engine itself lives elsewhere. It owns descriptors,
// enumeration, and endpoints, and hands this package a [Transport] for
// the two bulk pipes plus the class-specific control requests through
// [MSC.HandleClassRequest]. [MSC.Run] then loops over the three BOT
// phases:
//
//  1. Command: read a 31-byte Command Block Wrapper (CBW)
//  2. Data: move zero or more bytes in the direction the CBW names
//  3. Status: write a 13-byte Command Status Wrapper (CSW)
//
// # Commands
//
//   - TEST UNIT READY, REQUEST SENSE, INQUIRY
//   - READ CAPACITY (10) and (16), READ FORMAT CAPACITIES
//   - READ (10/16), WRITE (10/16), VERIFY (10)
//   - MODE SENSE (6/10), including the caching page
//   - PREVENT/ALLOW MEDIUM REMOVAL, START STOP UNIT
//   - SYNCHRONIZE CACHE (10)
//
// # Errors
//
// Storage errors become sense data by kind: out-of-range requests report
// ILLEGAL REQUEST / LBA OUT OF RANGE, rejected writes DATA PROTECT /
// WRITE PROTECTED, and flash failures MEDIUM ERROR with WRITE FAULT or
// UNRECOVERED READ ERROR depending on direction. A removed medium reports
// NOT READY / MEDIUM NOT PRESENT.
//
// # Usage
//
//	dev, _ := blockdev.New(driver, cfg)
//	disk := msc.New(dev, "ghostfat", "Flash Disk")
//	disk.SetTransport(bulk)
//	go blockdev.Ticker{}.Run(ctx, dev)
//	disk.Run(ctx)
package msc
