package nodeindex

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

const (
	// Each node entry: lat (int32) + lon (int32) = 8 bytes
	// Using fixed-point: value * 1e7 to store as int32
	entrySize = 8
	// DefaultMaxNodeID covers current planet node IDs with headroom
	DefaultMaxNodeID = 16_000_000_000
)

// MmapIndex is a memory-mapped node coordinate index
// Node coordinates are stored at offset = nodeID * 8
// This gives O(1) lookup for any node ID
type MmapIndex struct {
	file      *os.File
	data      mmap.MMap
	maxNodeID int64
}

// NewMmapIndex creates an index at path able to hold IDs below maxNodeID.
// The backing file is sparse; only written pages use disk space.
func NewMmapIndex(path string, maxNodeID int64) (*MmapIndex, error) {
	if maxNodeID <= 0 {
		maxNodeID = DefaultMaxNodeID
	}
	size := maxNodeID * entrySize

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create mmap file: %w", err)
	}

	// Truncate to full size (creates sparse file on Linux)
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to truncate file: %w", err)
	}

	data, err := mmap.MapRegion(f, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to mmap file: %w", err)
	}

	return &MmapIndex{
		file:      f,
		data:      data,
		maxNodeID: maxNodeID,
	}, nil
}

// Put stores a node's coordinates
func (m *MmapIndex) Put(nodeID int64, lat, lon float64) {
	if nodeID < 0 || nodeID >= m.maxNodeID {
		return // Ignore out of range
	}

	offset := nodeID * entrySize

	binary.LittleEndian.PutUint32(m.data[offset:], uint32(toFixed(lat)))
	binary.LittleEndian.PutUint32(m.data[offset+4:], uint32(toFixed(lon)))
}

// Get retrieves a node's coordinates
// Returns (0, 0, false) if the node doesn't exist
func (m *MmapIndex) Get(nodeID int64) (lat, lon float64, ok bool) {
	if nodeID < 0 || nodeID >= m.maxNodeID {
		return 0, 0, false
	}

	offset := nodeID * entrySize
	latInt := int32(binary.LittleEndian.Uint32(m.data[offset:]))
	lonInt := int32(binary.LittleEndian.Uint32(m.data[offset+4:]))

	// An untouched slot reads as 0,0; a node exactly at 0,0 is lost
	if latInt == 0 && lonInt == 0 {
		return 0, 0, false
	}

	return float64(latInt) / 1e7, float64(lonInt) / 1e7, true
}

// Sync flushes changes to disk
func (m *MmapIndex) Sync() error {
	return m.data.Flush()
}

// Close unmaps and closes the index file
func (m *MmapIndex) Close() error {
	if err := m.data.Unmap(); err != nil {
		m.file.Close()
		return err
	}
	return m.file.Close()
}

// toFixed rounds to the 1e-7 degree grid OSM coordinates live on
func toFixed(v float64) int32 {
	if v < 0 {
		return int32(v*1e7 - 0.5)
	}
	return int32(v*1e7 + 0.5)
}
