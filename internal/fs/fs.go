// Package fs implements the minimal read-only FAT32 collaborator spec §6
// describes: "open file by POSIX-style absolute path (returns a stream
// with size and blocking read)". Directory listing, writes, and long
// file names are not needed by the loader this package serves (spec
// §6: "open directory not needed by the core; only by the shell", and
// the shell itself is out of scope) and are left unimplemented.
//
// Grounded on the original Rust source's lib/fat32/src/mbr.rs (partition
// table layout), vfat/ebpb.rs (BIOS Parameter Block field layout),
// vfat/vfat.rs (VFat::from's partition-selection and layout-derivation
// logic, read_cluster/read_chain/next_cluster's cluster-chain walk), and
// vfat/dir.rs (EntryIterator's short-name parsing and Dir::find's
// case-insensitive lookup) — adapted from that reference's generic,
// cached, long-filename-aware implementation down to the single concrete
// path this kernel needs: walk 8.3 short-name directory entries only
// (0x0F attribute / long-filename entries are skipped, not reconstructed,
// since nothing this kernel loads needs a name longer than 8.3) one
// directory level at a time from the root, then read the file's whole
// cluster chain on the first Read call and serve every Read from that copy.
package fs

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"

	"github.com/dummycode/gokernel/internal/kernerr"
	"github.com/dummycode/gokernel/internal/spinlock"
)

// BlockDevice is the narrow interface this package needs from a storage
// backend: read one fixed-size sector. internal/sdhci.Device satisfies
// this structurally, the same way internal/process.File lets
// internal/process stay decoupled from this package.
type BlockDevice interface {
	ReadBlock(lba uint32, buf []byte) error
}

const (
	sectorSize   = 512
	dirEntrySize = 32
	fatEntryBytes = 4

	attrDirectory = 0x10
	attrLongName  = 0x0F
	entryFree     = 0xE5
	entryEnd      = 0x00

	partitionTypeFAT32CHS = 0x0B
	partitionTypeFAT32LBA = 0x0C

	fatEOCThreshold = 0x0FFFFFF8
	fatEntryMask    = 0x0FFFFFFF
)

// FileSystem is a mounted FAT32 volume. One instance wraps one
// BlockDevice; cmd/kernel constructs exactly one over the production
// internal/sdhci.Device, matching spec §6's single read-only volume.
// lock serializes every call that reaches dev (spec §5: "the
// file-system handle ... wrapped in a process-wide spinlock"): Open
// and File.Read both walk directory entries and cluster chains through
// the one shared SD card wire, and neither calls back into the
// scheduler, IRQ table, or allocator, so holding this lock for the
// whole call is safe regardless of where fs sits in the stated order.
type FileSystem struct {
	dev  BlockDevice
	lock spinlock.Spinlock

	bytesPerSector    uint16
	sectorsPerCluster uint8
	fatStartSector    uint32
	dataStartSector   uint32
	rootCluster       uint32
	clusterSize       uint32
}

// New reads the MBR and the FAT32 BIOS Parameter Block from dev and
// derives the layout Open/File.Read need, mirroring VFat::from's
// partition-selection (first partition of type 0x0B/0x0C) and
// reserved/FAT/data region arithmetic.
func New(dev BlockDevice) (*FileSystem, error) {
	var mbr [sectorSize]byte
	if err := dev.ReadBlock(0, mbr[:]); err != nil {
		return nil, kernerr.Wrap("fs", "failed to read MBR", err)
	}
	if mbr[510] != 0x55 || mbr[511] != 0xAA {
		return nil, kernerr.New("fs", "bad MBR signature")
	}

	partitionStart, ok := findFAT32Partition(mbr[:])
	if !ok {
		return nil, kernerr.New("fs", "no FAT32 partition found in MBR")
	}

	var bpb [sectorSize]byte
	if err := dev.ReadBlock(partitionStart, bpb[:]); err != nil {
		return nil, kernerr.Wrap("fs", "failed to read BIOS parameter block", err)
	}
	if bpb[510] != 0x55 || bpb[511] != 0xAA {
		return nil, kernerr.New("fs", "bad BPB signature")
	}

	bytesPerSector := binary.LittleEndian.Uint16(bpb[11:13])
	sectorsPerCluster := bpb[13]
	reservedSectors := binary.LittleEndian.Uint16(bpb[14:16])
	numFATs := bpb[16]
	sectorsPerFAT := binary.LittleEndian.Uint32(bpb[36:40])
	rootCluster := binary.LittleEndian.Uint32(bpb[44:48])

	fatStartSector := partitionStart + uint32(reservedSectors)
	dataStartSector := fatStartSector + uint32(numFATs)*sectorsPerFAT

	return &FileSystem{
		dev:               dev,
		bytesPerSector:    bytesPerSector,
		sectorsPerCluster: sectorsPerCluster,
		fatStartSector:    fatStartSector,
		dataStartSector:   dataStartSector,
		rootCluster:       rootCluster,
		clusterSize:       uint32(bytesPerSector) * uint32(sectorsPerCluster),
	}, nil
}

// findFAT32Partition mirrors VFat::from's "select the first entry of
// type 0xB or 0xC" scan over the MBR's four 16-byte partition entries.
func findFAT32Partition(mbr []byte) (uint32, bool) {
	const entriesOffset = 446
	for i := 0; i < 4; i++ {
		entry := mbr[entriesOffset+i*16 : entriesOffset+(i+1)*16]
		partitionType := entry[4]
		if partitionType == partitionTypeFAT32CHS || partitionType == partitionTypeFAT32LBA {
			return binary.LittleEndian.Uint32(entry[8:12]), true
		}
	}
	return 0, false
}

// Open resolves a POSIX-style absolute path ("/bin/init") to a File,
// walking one directory level per path component from the root the same
// way vfat.rs's FileSystem::open does, but restricted to short (8.3)
// names per this package's doc comment.
func (fsys *FileSystem) Open(path string) (*File, error) {
	if len(path) == 0 || path[0] != '/' {
		return nil, kernerr.New("fs", "path must be absolute")
	}

	fsys.lock.Lock()
	f, err := fsys.openLocked(path)
	fsys.lock.Unlock()
	return f, err
}

func (fsys *FileSystem) openLocked(path string) (*File, error) {
	cluster := fsys.rootCluster
	components := strings.Split(strings.Trim(path, "/"), "/")
	for i, name := range components {
		if name == "" {
			continue
		}
		entries, err := fsys.readDirEntries(cluster)
		if err != nil {
			return nil, err
		}
		found, ok := findEntry(entries, name)
		if !ok {
			return nil, kernerr.New("fs", "no such file or directory: "+path)
		}
		isLast := i == len(components)-1
		if found.isDir && !isLast {
			cluster = found.cluster
			continue
		}
		if found.isDir {
			return nil, kernerr.New("fs", "is a directory: "+path)
		}
		if !isLast {
			return nil, kernerr.New("fs", "not a directory: "+path)
		}
		return &File{fsys: fsys, firstCluster: found.cluster, size: int64(found.size)}, nil
	}
	return nil, kernerr.New("fs", "empty path")
}

type dirEntry struct {
	name    string
	isDir   bool
	cluster uint32
	size    uint32
}

// readDirEntries reads every cluster in start's chain and parses its
// short-name directory entries, mirroring Dir::entries' read_chain call
// followed by EntryIterator's walk, minus long-filename reconstruction.
func (fsys *FileSystem) readDirEntries(start uint32) ([]dirEntry, error) {
	raw, err := fsys.readChain(start)
	if err != nil {
		return nil, err
	}

	var entries []dirEntry
	for off := 0; off+dirEntrySize <= len(raw); off += dirEntrySize {
		raw := raw[off : off+dirEntrySize]
		switch raw[0] {
		case entryEnd:
			return entries, nil
		case entryFree:
			continue
		}
		if raw[11] == attrLongName {
			continue // long-filename entries are skipped, not reconstructed
		}

		name := parseShortName(raw[0:8], raw[8:11])
		attr := raw[11]
		clusterHi := binary.LittleEndian.Uint16(raw[20:22])
		clusterLo := binary.LittleEndian.Uint16(raw[26:28])
		size := binary.LittleEndian.Uint32(raw[28:32])

		entries = append(entries, dirEntry{
			name:    name,
			isDir:   attr&attrDirectory != 0,
			cluster: uint32(clusterHi)<<16 | uint32(clusterLo),
			size:    size,
		})
	}
	return entries, nil
}

func findEntry(entries []dirEntry, name string) (dirEntry, bool) {
	for _, e := range entries {
		if strings.EqualFold(e.name, name) {
			return e, true
		}
	}
	return dirEntry{}, false
}

// parseShortName reassembles an 8.3 name from its space-padded base and
// extension fields by trimming trailing spaces and NULs from each (unlike
// parse_null_string in dir.rs, an embedded space or NUL is kept).
func parseShortName(base, ext []byte) string {
	trimmed := func(b []byte) string {
		return string(bytes.TrimRight(b, " \x00"))
	}
	name := trimmed(base)
	if e := trimmed(ext); e != "" {
		name += "." + e
	}
	return name
}

// readChain reads every cluster in start's FAT chain into one
// contiguous buffer, mirroring VFat::read_chain.
func (fsys *FileSystem) readChain(start uint32) ([]byte, error) {
	var out []byte
	cluster := start
	for {
		data, err := fsys.readCluster(cluster)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)

		next, hasNext, err := fsys.nextCluster(cluster)
		if err != nil {
			return nil, err
		}
		if !hasNext {
			break
		}
		cluster = next
	}
	return out, nil
}

// readCluster reads one full cluster's worth of sectors, mirroring
// VFat::read_cluster's data_start_sector + (cluster.index() *
// sectors_per_cluster) addressing.
func (fsys *FileSystem) readCluster(cluster uint32) ([]byte, error) {
	firstSector := fsys.dataStartSector + (cluster-2)*uint32(fsys.sectorsPerCluster)
	buf := make([]byte, fsys.clusterSize)
	for s := uint8(0); s < fsys.sectorsPerCluster; s++ {
		sectorBuf := buf[uint32(s)*uint32(fsys.bytesPerSector) : uint32(s+1)*uint32(fsys.bytesPerSector)]
		if err := fsys.dev.ReadBlock(firstSector+uint32(s), sectorBuf); err != nil {
			return nil, kernerr.Wrap("fs", "failed to read data cluster", err)
		}
	}
	return buf, nil
}

// nextCluster reads the FAT entry for cluster and reports the next
// cluster in the chain, mirroring VFat::fat_entry + next_cluster's
// status-based dispatch (Status::Data vs. Status::Eoc).
func (fsys *FileSystem) nextCluster(cluster uint32) (uint32, bool, error) {
	entriesPerSector := uint32(fsys.bytesPerSector) / fatEntryBytes
	sector := fsys.fatStartSector + cluster/entriesPerSector
	offsetInSector := (cluster % entriesPerSector) * fatEntryBytes

	var sectorBuf [sectorSize]byte
	if err := fsys.dev.ReadBlock(sector, sectorBuf[:fsys.bytesPerSector]); err != nil {
		return 0, false, kernerr.Wrap("fs", "failed to read FAT sector", err)
	}

	raw := binary.LittleEndian.Uint32(sectorBuf[offsetInSector:offsetInSector+4]) & fatEntryMask
	if raw == 0 || raw >= fatEOCThreshold {
		return 0, false, nil
	}
	return raw, true, nil
}

// File is an open handle to a FAT32 file's data, satisfying
// internal/process.File's Size/Read seam.
type File struct {
	fsys         *FileSystem
	firstCluster uint32
	size         int64
	pos          int64
	cached       []byte
}

// Size returns the file's byte length, as recorded in its directory
// entry.
func (f *File) Size() int64 {
	return f.size
}

// Read fills buf from the file's cluster chain, advancing the read
// position. The entire chain is read and cached on first use rather than
// streamed cluster-by-cluster, since spec §6 only requires a blocking
// read, not a seekable or memory-bounded one.
func (f *File) Read(buf []byte) (int, error) {
	f.fsys.lock.Lock()
	n, err := f.readLocked(buf)
	f.fsys.lock.Unlock()
	return n, err
}

func (f *File) readLocked(buf []byte) (int, error) {
	if f.pos >= f.size {
		return 0, io.EOF
	}
	if f.cached == nil {
		data, err := f.fsys.readChain(f.firstCluster)
		if err != nil {
			return 0, err
		}
		f.cached = data
	}

	n := copy(buf, f.cached[f.pos:])
	f.pos += int64(n)
	if int64(n) < int64(len(buf)) {
		return n, io.EOF
	}
	return n, nil
}
