package blockdev

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"testing"

	"github.com/ardnew/ghostfat/msc"
)

// hostPipe replays host transfers into the command layer.
type hostPipe struct {
	in  [][]byte
	out [][]byte
}

func (p *hostPipe) Read(ctx context.Context, buf []byte) (int, error) {
	if len(p.in) == 0 {
		return 0, io.EOF
	}
	n := copy(buf, p.in[0])
	p.in = p.in[1:]
	return n, nil
}

func (p *hostPipe) Write(ctx context.Context, buf []byte) (int, error) {
	p.out = append(p.out, append([]byte(nil), buf...))
	return len(buf), nil
}

func command(tag, dataLen uint32, dataIn bool, cb ...byte) []byte {
	cbw := msc.CommandBlockWrapper{Tag: tag, DataTransferLength: dataLen, CBLength: uint8(len(cb))}
	if dataIn {
		cbw.Flags = msc.CBWFlagDataIn
	}
	copy(cbw.CB[:], cb)
	buf := make([]byte, msc.CBWSize)
	cbw.MarshalTo(buf)
	return buf
}

func rw10(op uint8, lba uint32, blocks uint16) []byte {
	cb := make([]byte, 10)
	cb[0] = op
	binary.BigEndian.PutUint32(cb[2:], lba)
	binary.BigEndian.PutUint16(cb[7:], blocks)
	return cb
}

func lastCSW(t *testing.T, p *hostPipe) msc.CommandStatusWrapper {
	t.Helper()
	var csw msc.CommandStatusWrapper
	if len(p.out) == 0 || !msc.ParseCSW(p.out[len(p.out)-1], &csw) {
		t.Fatal("no CSW sent")
	}
	return csw
}

func TestMSC_WriteSyncThroughDevice(t *testing.T) {
	d, _, rec := newTestDevice(t, nil)
	s := d.SyntheticBlocks()
	disk := msc.New(d, "ghostfat", "Flash Disk")
	pipe := &hostPipe{}
	disk.SetTransport(pipe)

	block := bytes.Repeat([]byte{0xAA}, BlockSize)
	pipe.in = [][]byte{
		command(1, BlockSize, false, rw10(msc.SCSIWrite10, s, 1)...),
		block,
		command(2, 0, false, msc.SCSISynchronizeCache10, 0, 0, 0, 0, 0, 0, 0, 0, 0),
		command(3, BlockSize, true, rw10(msc.SCSIRead10, s, 1)...),
	}
	if err := disk.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	checkOps(t, rec, "erase:08010000", "program:08010000")
	if csw := lastCSW(t, pipe); csw.Tag != 3 || csw.Status != msc.CSWStatusGood {
		t.Errorf("READ CSW = %+v", csw)
	}
	if got := pipe.out[len(pipe.out)-2]; !bytes.Equal(got, block) {
		t.Error("READ (10) after sync returned different data")
	}
}

func TestMSC_FlushFailureSense(t *testing.T) {
	d, mem, _ := newTestDevice(t, nil)
	s := d.SyntheticBlocks()
	disk := msc.New(d, "ghostfat", "Flash Disk")
	pipe := &hostPipe{}
	disk.SetTransport(pipe)

	pipe.in = [][]byte{
		command(1, BlockSize, false, rw10(msc.SCSIWrite10, s, 1)...),
		make([]byte, BlockSize),
	}
	if err := disk.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	mem.FailNextProgram()
	pipe.in = [][]byte{command(2, 0, false, msc.SCSISynchronizeCache10, 0, 0, 0, 0, 0, 0, 0, 0, 0)}
	if err := disk.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if csw := lastCSW(t, pipe); csw.Status != msc.CSWStatusFailed {
		t.Errorf("SYNCHRONIZE CACHE status = %d, want failed", csw.Status)
	}
	if sense := disk.Sense(); sense.Key != msc.SenseMediumError || sense.ASC != msc.ASCWriteFault {
		t.Errorf("Sense() = %+v, want MEDIUM ERROR / WRITE FAULT", sense)
	}

	// Out-of-range LBA.
	pipe.in = [][]byte{command(3, BlockSize, true, rw10(msc.SCSIRead10, d.Blocks(), 1)...)}
	if err := disk.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sense := disk.Sense(); sense.Key != msc.SenseIllegalRequest || sense.ASC != msc.ASCLBAOutOfRange {
		t.Errorf("Sense() = %+v, want ILLEGAL REQUEST / LBA OUT OF RANGE", sense)
	}
}
