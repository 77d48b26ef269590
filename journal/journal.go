// Package journal implements the write-ahead log that backs crash
// recovery: every committed page image and every transaction boundary
// is appended here before the volume's master page is advanced to
// reference it. Records are keyed by page address and generation so a
// volume of any page size can replay them, and a throttle keeps a burst
// of writers from growing the log faster than Sync can drain it.
package journal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

const (
	magic        = "BLNK"
	version      = 1
	headerSize   = 8                 // magic(4) + version(4)
	recordHeader = 1 + 8 + 8 + 4 + 4 // type(1) pageAddr(8) generation(8) length(4) crc(4)
)

// Record types.
const (
	RecordPageWrite uint8 = iota + 1
	RecordCommit
	RecordCheckpoint
)

// Record is one journal entry.
type Record struct {
	Type       uint8
	PageAddr   uint64
	Generation uint64
	Data       []byte
	Checksum   uint32
}

// Manager appends records to a single journal file and throttles
// callers when too many bytes are unflushed.
type Manager struct {
	file         *os.File
	mu           sync.Mutex
	cond         *sync.Cond
	offset       int64
	flushed      int64
	maxUnflushed int64
}

// Open creates or reopens the journal at path. maxUnflushed bounds how
// far Append may run ahead of the last Sync before Throttle blocks
// (zero disables throttling).
func Open(path string, maxUnflushed int64) (*Manager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	m := &Manager{file: f, maxUnflushed: maxUnflushed}
	m.cond = sync.NewCond(&m.mu)

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if stat.Size() == 0 {
		if err := m.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
		m.offset, m.flushed = headerSize, headerSize
		return m, nil
	}
	if err := m.validateHeader(); err != nil {
		f.Close()
		return nil, err
	}
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, err
	}
	m.offset, m.flushed = end, end
	return m, nil
}

func (m *Manager) writeHeader() error {
	h := make([]byte, headerSize)
	copy(h[0:4], magic)
	binary.LittleEndian.PutUint32(h[4:8], version)
	_, err := m.file.WriteAt(h, 0)
	return err
}

func (m *Manager) validateHeader() error {
	h := make([]byte, headerSize)
	if _, err := m.file.ReadAt(h, 0); err != nil {
		return fmt.Errorf("journal: read header: %w", err)
	}
	if string(h[0:4]) != magic {
		return fmt.Errorf("journal: bad magic %q", h[0:4])
	}
	if v := binary.LittleEndian.Uint32(h[4:8]); v != version {
		return fmt.Errorf("journal: unsupported version %d", v)
	}
	return nil
}

// Throttle blocks the caller while more than maxUnflushed bytes are
// waiting on a Sync, so a slow disk applies backpressure to writers
// instead of letting the journal grow without bound.
func (m *Manager) Throttle() {
	if m.maxUnflushed <= 0 {
		return
	}
	m.mu.Lock()
	for m.offset-m.flushed > m.maxUnflushed {
		m.cond.Wait()
	}
	m.mu.Unlock()
}

// LogPageWrite appends a page image, stamped with the generation it
// was written at so recovery can discard any record superseded by a
// later write to the same page.
func (m *Manager) LogPageWrite(pageAddr, generation uint64, data []byte) error {
	m.Throttle()
	return m.append(&Record{Type: RecordPageWrite, PageAddr: pageAddr, Generation: generation, Data: data})
}

// LogCommit marks a transaction boundary: every PageWrite appended
// before it belongs to the committing transaction.
func (m *Manager) LogCommit(txnStartTS uint64) error {
	return m.append(&Record{Type: RecordCommit, PageAddr: txnStartTS})
}

// LogCheckpoint records that every record before it is already
// reflected in the volume's master page and can be skipped on replay.
func (m *Manager) LogCheckpoint() error {
	return m.append(&Record{Type: RecordCheckpoint})
}

func (m *Manager) append(r *Record) error {
	r.Checksum = checksum(r)
	buf := encode(r)

	m.mu.Lock()
	off := m.offset
	m.offset += int64(len(buf))
	m.mu.Unlock()

	if _, err := m.file.WriteAt(buf, off); err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	return nil
}

// Sync flushes the journal file and wakes any throttled appenders.
func (m *Manager) Sync() error {
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("journal: sync: %w", err)
	}
	m.mu.Lock()
	m.flushed = m.offset
	m.cond.Broadcast()
	m.mu.Unlock()
	return nil
}

// ReadAll replays every record for recovery.
func (m *Manager) ReadAll() ([]*Record, error) {
	m.mu.Lock()
	end := m.offset
	m.mu.Unlock()

	var out []*Record
	off := int64(headerSize)
	for off < end {
		head := make([]byte, recordHeader)
		if _, err := m.file.ReadAt(head, off); err != nil {
			if err == io.EOF {
				break
			}
			return out, fmt.Errorf("journal: read header at %d: %w", off, err)
		}
		length := binary.LittleEndian.Uint32(head[17:21])
		full := make([]byte, recordHeader+int(length))
		if _, err := m.file.ReadAt(full, off); err != nil {
			if err == io.EOF {
				break
			}
			return out, fmt.Errorf("journal: read record at %d: %w", off, err)
		}
		rec, err := decode(full)
		if err != nil {
			return out, fmt.Errorf("journal: corrupted record at %d: %w", off, err)
		}
		out = append(out, rec)
		off += int64(recordHeader + int(length))
	}
	return out, nil
}

// Truncate discards the journal after a checkpoint has made it
// redundant.
func (m *Manager) Truncate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.file.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(m.file.Name(), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	m.file = f
	if err := m.writeHeader(); err != nil {
		return err
	}
	m.offset, m.flushed = headerSize, headerSize
	return nil
}

func (m *Manager) Close() error {
	if err := m.file.Sync(); err != nil {
		return err
	}
	return m.file.Close()
}

func encode(r *Record) []byte {
	buf := make([]byte, recordHeader+len(r.Data))
	buf[0] = r.Type
	binary.LittleEndian.PutUint64(buf[1:9], r.PageAddr)
	binary.LittleEndian.PutUint64(buf[9:17], r.Generation)
	binary.LittleEndian.PutUint32(buf[17:21], uint32(len(r.Data)))
	copy(buf[21:21+len(r.Data)], r.Data)
	binary.LittleEndian.PutUint32(buf[21+len(r.Data):], r.Checksum)
	return buf
}

func decode(buf []byte) (*Record, error) {
	if len(buf) < recordHeader {
		return nil, fmt.Errorf("record too short: %d bytes", len(buf))
	}
	r := &Record{
		Type:       buf[0],
		PageAddr:   binary.LittleEndian.Uint64(buf[1:9]),
		Generation: binary.LittleEndian.Uint64(buf[9:17]),
	}
	length := binary.LittleEndian.Uint32(buf[17:21])
	if len(buf) < 21+int(length)+4 {
		return nil, fmt.Errorf("incomplete record: want %d got %d", 21+int(length)+4, len(buf))
	}
	r.Data = append([]byte(nil), buf[21:21+length]...)
	r.Checksum = binary.LittleEndian.Uint32(buf[21+length:])
	if want := checksum(r); want != r.Checksum {
		return nil, fmt.Errorf("checksum mismatch: want %d got %d", want, r.Checksum)
	}
	return r, nil
}

func checksum(r *Record) uint32 {
	h := crc32.NewIEEE()
	var head [17]byte
	head[0] = r.Type
	binary.LittleEndian.PutUint64(head[1:9], r.PageAddr)
	binary.LittleEndian.PutUint64(head[9:17], r.Generation)
	h.Write(head[:])
	h.Write(r.Data)
	return h.Sum32()
}
