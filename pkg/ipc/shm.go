package ipc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ServiceName is the logical shared-memory service name.
// It is realized as two segments, one per direction, to avoid a publisher
// immediately observing its own writes as if they arrived from a peer.
const ServiceName = "Amadeus/Message/Service"

// defaultSlotCount is the ring buffer depth per segment.
const defaultSlotCount = 1024

// headerSize holds the single atomic int64 write sequence counter.
const headerSize = 8

func alignUp8(n int) int {
	if rem := n % 8; rem != 0 {
		n += 8 - rem
	}
	return n
}

var slotStride = alignUp8(headerSize + RecordSize)

// segment is a single-writer, multi-reader mmap-backed ring buffer: an
// atomic write-sequence header followed by fixed-size slots, each tagged
// with the sequence number that last wrote it. A reader compares its local
// cursor against a slot's tag to tell whether the slot holds the record it
// expects or has already been overwritten (lapped).
type segment struct {
	file *os.File
	data []byte
}

func openSegment(path string, slots int) (*segment, error) {
	if slots <= 0 {
		slots = defaultSlotCount
	}
	size := headerSize + slots*slotStride

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ipc: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ipc: open %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("ipc: truncate: %w", err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ipc: mmap: %w", err)
	}

	return &segment{file: f, data: data}, nil
}

func (s *segment) close() error {
	err := unix.Munmap(s.data)
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *segment) writeSeqPtr() *int64 {
	return (*int64)(unsafe.Pointer(&s.data[0]))
}

func (s *segment) slotCount() int {
	return (len(s.data) - headerSize) / slotStride
}

func (s *segment) slotOffset(idx int) int {
	return headerSize + idx*slotStride
}

// publish writes rec into the next slot and makes it visible to readers by
// storing the slot's sequence tag last, after the payload bytes.
func (s *segment) publish(rec Record) (int64, error) {
	buf, err := rec.Marshal()
	if err != nil {
		return 0, err
	}

	seq := atomic.AddInt64(s.writeSeqPtr(), 1) - 1
	idx := int(seq % int64(s.slotCount()))
	off := s.slotOffset(idx)

	copy(s.data[off+8:off+8+RecordSize], buf)
	atomic.StoreInt64((*int64)(unsafe.Pointer(&s.data[off])), seq+1)
	return seq, nil
}

// Reader tracks one subscriber's position in a segment.
type Reader struct {
	seg    *segment
	cursor int64
}

// newReader starts the cursor at the segment's current write position, so
// a subscriber observes only records published from this point on —
// matching the bus's own "new subscriber does not receive past messages"
// rule for broadcast topics.
func (s *segment) newReader() *Reader {
	return &Reader{seg: s, cursor: atomic.LoadInt64(s.writeSeqPtr())}
}

// Next blocks (polling with backoff) until a record is available or ctx is
// done.
func (r *Reader) Next(ctx context.Context) (Record, error) {
	backoff := time.Millisecond
	const maxBackoff = 50 * time.Millisecond
	for {
		idx := int(r.cursor % int64(r.seg.slotCount()))
		off := r.seg.slotOffset(idx)
		tag := atomic.LoadInt64((*int64)(unsafe.Pointer(&r.seg.data[off])))

		if tag == r.cursor+1 {
			rec, err := Unmarshal(r.seg.data[off+8 : off+8+RecordSize])
			r.cursor++
			return rec, err
		}
		if tag > r.cursor+1 {
			// Lapped by the writer: jump forward to the record now held in
			// this slot rather than returning stale/overwritten data.
			// Records published between the old cursor and it are skipped.
			r.cursor = tag - 1
			continue
		}

		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case <-time.After(backoff):
			if backoff < maxBackoff {
				backoff *= 2
			}
		}
	}
}

// Service exposes the two directional segments backing ServiceName:
// Outbound carries internal-bus broadcasts to external subscribers,
// Inbound carries external publishes back into the internal bus.
type Service struct {
	Outbound *segment
	Inbound  *segment
}

// OpenService opens (creating if absent) both segments under dir,
// typically /dev/shm.
func OpenService(dir string, slots int) (*Service, error) {
	out, err := openSegment(filepath.Join(dir, "amadeus-message-service.outbound"), slots)
	if err != nil {
		return nil, err
	}
	in, err := openSegment(filepath.Join(dir, "amadeus-message-service.inbound"), slots)
	if err != nil {
		out.close()
		return nil, err
	}
	return &Service{Outbound: out, Inbound: in}, nil
}

// Close unmaps and closes both segments.
func (s *Service) Close() error {
	err := s.Outbound.close()
	if ierr := s.Inbound.close(); err == nil {
		err = ierr
	}
	return err
}

// PublishOutbound writes rec for external subscribers to observe.
func (s *Service) PublishOutbound(rec Record) error {
	_, err := s.Outbound.publish(rec)
	return err
}

// PublishInbound writes rec as if an external peer produced it. Exercised
// by tests simulating an external publisher; production external peers
// write this segment directly per the shared wire layout.
func (s *Service) PublishInbound(rec Record) error {
	_, err := s.Inbound.publish(rec)
	return err
}

// SubscribeOutbound returns a reader observing records this process
// publishes outbound (used by tests and in-process loopback consumers).
func (s *Service) SubscribeOutbound() *Reader { return s.Outbound.newReader() }

// SubscribeInbound returns a reader observing records external peers
// publish inbound, for IpcDispatcherPlugin's inbound half.
func (s *Service) SubscribeInbound() *Reader { return s.Inbound.newReader() }
