package fs

import (
	"encoding/binary"
	"io"
	"testing"
)

// fakeDevice is an in-memory BlockDevice backing a hand-built FAT32
// image, the "in-memory/stub block source for tests" this package's
// SPEC_FULL supplement calls for, standing in for internal/sdhci.Device.
type fakeDevice struct {
	sectors map[uint32][sectorSize]byte
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{sectors: make(map[uint32][sectorSize]byte)}
}

func (d *fakeDevice) ReadBlock(lba uint32, buf []byte) error {
	sector := d.sectors[lba]
	copy(buf, sector[:])
	return nil
}

func (d *fakeDevice) putSector(lba uint32, data []byte) {
	var sector [sectorSize]byte
	copy(sector[:], data)
	d.sectors[lba] = sector
}

// buildImage lays out one partition starting at sector 1: a one-sector
// BPB, a one-sector FAT, a one-sector root directory (cluster 2), and a
// one-sector file data region (cluster 3) holding content.
func buildImage(t *testing.T, content []byte) *fakeDevice {
	t.Helper()
	dev := newFakeDevice()

	mbr := make([]byte, sectorSize)
	const entryOff = 446
	mbr[entryOff+4] = partitionTypeFAT32LBA
	binary.LittleEndian.PutUint32(mbr[entryOff+8:], 1) // relative_sector = 1
	mbr[510], mbr[511] = 0x55, 0xAA
	dev.putSector(0, mbr)

	bpb := make([]byte, sectorSize)
	binary.LittleEndian.PutUint16(bpb[11:], sectorSize) // bytes_per_sector
	bpb[13] = 1                                          // sectors_per_cluster
	binary.LittleEndian.PutUint16(bpb[14:], 1)           // num_reserved_sectors
	bpb[16] = 1                                          // num_fats
	binary.LittleEndian.PutUint32(bpb[36:], 1)           // sectors_per_fat
	binary.LittleEndian.PutUint32(bpb[44:], 2)           // root_cluster_num
	bpb[510], bpb[511] = 0x55, 0xAA
	dev.putSector(1, bpb)

	fat := make([]byte, sectorSize)
	binary.LittleEndian.PutUint32(fat[2*4:], fatEOCThreshold) // cluster 2 (root dir): EOC
	binary.LittleEndian.PutUint32(fat[3*4:], fatEOCThreshold) // cluster 3 (file): EOC
	dev.putSector(2, fat)

	root := make([]byte, sectorSize)
	copy(root[0:8], []byte("HELLO   "))
	copy(root[8:11], []byte("TXT"))
	root[11] = 0x20 // archive, not a directory
	binary.LittleEndian.PutUint16(root[20:], 0)    // cluster high
	binary.LittleEndian.PutUint16(root[26:], 3)    // cluster low = 3
	binary.LittleEndian.PutUint32(root[28:], uint32(len(content)))
	dev.putSector(3, root)

	dev.putSector(4, content)

	return dev
}

func TestOpenReadsFileContentsAndSize(t *testing.T) {
	content := []byte("hello, fat32\n")
	dev := buildImage(t, content)

	fsys, err := New(dev)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	f, err := fsys.Open("/hello.txt")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if f.Size() != int64(len(content)) {
		t.Fatalf("Size() = %d, want %d", f.Size(), len(content))
	}

	buf := make([]byte, len(content))
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		t.Fatalf("Read failed: %v", err)
	}
	if n != len(content) || string(buf) != string(content) {
		t.Fatalf("Read() = %q (%d bytes), want %q", buf[:n], n, content)
	}
}

func TestOpenIsCaseInsensitive(t *testing.T) {
	dev := buildImage(t, []byte("x"))
	fsys, err := New(dev)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := fsys.Open("/HELLO.TXT"); err != nil {
		t.Fatalf("Open with different case failed: %v", err)
	}
}

func TestOpenMissingFileReturnsError(t *testing.T) {
	dev := buildImage(t, []byte("x"))
	fsys, err := New(dev)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := fsys.Open("/nope.txt"); err == nil {
		t.Fatal("expected error opening a nonexistent file")
	}
}

func TestOpenRejectsRelativePath(t *testing.T) {
	dev := buildImage(t, []byte("x"))
	fsys, err := New(dev)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := fsys.Open("hello.txt"); err == nil {
		t.Fatal("expected error opening a relative path")
	}
}

func TestReadReturnsEOFAfterFullContent(t *testing.T) {
	content := []byte("short")
	dev := buildImage(t, content)
	fsys, err := New(dev)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	f, err := fsys.Open("/hello.txt")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	buf := make([]byte, len(content))
	if _, err := f.Read(buf); err != nil && err != io.EOF {
		t.Fatalf("first Read failed: %v", err)
	}

	n, err := f.Read(buf)
	if err != io.EOF {
		t.Fatalf("second Read err = %v, want io.EOF", err)
	}
	if n != 0 {
		t.Fatalf("second Read n = %d, want 0", n)
	}
}
