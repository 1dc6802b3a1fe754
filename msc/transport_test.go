package msc

import (
	"context"
	"encoding/binary"
	"io"
	"testing"
)

// fakeTransport replays queued host-to-device transfers and records
// device-to-host transfers.
type fakeTransport struct {
	in  [][]byte
	out [][]byte
}

func (f *fakeTransport) Read(ctx context.Context, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(f.in) == 0 {
		return 0, io.EOF
	}
	n := copy(buf, f.in[0])
	if n < len(f.in[0]) {
		f.in[0] = f.in[0][n:]
	} else {
		f.in = f.in[1:]
	}
	return n, nil
}

func (f *fakeTransport) Write(ctx context.Context, buf []byte) (int, error) {
	f.out = append(f.out, append([]byte(nil), buf...))
	return len(buf), nil
}

func newCBW(tag, dataLen uint32, dataIn bool, cb ...byte) []byte {
	cbw := CommandBlockWrapper{
		Tag:                tag,
		DataTransferLength: dataLen,
		CBLength:           uint8(len(cb)),
	}
	if dataIn {
		cbw.Flags = CBWFlagDataIn
	}
	copy(cbw.CB[:], cb)
	buf := make([]byte, CBWSize)
	cbw.MarshalTo(buf)
	return buf
}

func read10(lba uint32, blocks uint16) []byte {
	cb := make([]byte, 10)
	cb[0] = SCSIRead10
	binary.BigEndian.PutUint32(cb[2:], lba)
	binary.BigEndian.PutUint16(cb[7:], blocks)
	return cb
}

func write10(lba uint32, blocks uint16) []byte {
	cb := read10(lba, blocks)
	cb[0] = SCSIWrite10
	return cb
}

// result is the device side of one command.
type result struct {
	data [][]byte
	csw  CommandStatusWrapper
}

// exec queues a command and its data-out payload, services it, and
// decodes the CSW.
func exec(t *testing.T, m *MSC, f *fakeTransport, cbw []byte, payload ...[]byte) result {
	t.Helper()
	f.in = append(f.in, cbw)
	f.in = append(f.in, payload...)
	f.out = nil

	if err := m.processCBW(context.Background()); err != nil {
		t.Fatalf("processCBW() error = %v", err)
	}
	if len(f.out) == 0 {
		t.Fatal("no CSW sent")
	}
	var r result
	if !ParseCSW(f.out[len(f.out)-1], &r.csw) {
		t.Fatalf("invalid CSW % X", f.out[len(f.out)-1])
	}
	r.data = f.out[:len(f.out)-1]
	return r
}

func (r result) bytes() []byte {
	var all []byte
	for _, d := range r.data {
		all = append(all, d...)
	}
	return all
}
