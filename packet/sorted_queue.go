package packet

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// SortedQueue reorders packets by sequence number within a bounded window.
//
// Packets behind the read cursor, the sequence number after the last one
// read, are dropped and counted late. Until the first read, an earlier packet
// within the window moves the cursor back instead. A packet arriving more than the window size ahead of the cursor advances
// the cursor; stored packets that fall behind it are dropped and the skipped
// slots become permanent gaps. All comparisons are wrap-aware.
type SortedQueue struct {
	window  int
	packets []*Packet
	cursor  Seqnum
	started bool

	lateDropped      uint64
	windowDropped    uint64
	duplicateDropped uint64
}

// NewSortedQueue creates a queue with the given window size in packets.
func NewSortedQueue(window int) (*SortedQueue, error) {
	if window <= 0 {
		return nil, fmt.Errorf("sorted queue: invalid window size %d", window)
	}
	return &SortedQueue{
		window:  window,
		packets: make([]*Packet, 0, window),
	}, nil
}

// WritePacket inserts a packet in sequence order.
func (q *SortedQueue) WritePacket(p *Packet) error {
	if !q.started {
		// Nothing read yet: the cursor follows the oldest packet seen, as long
		// as the newest stored packet stays inside the window.
		if len(q.packets) == 0 || (SeqnumLt(p.Seqnum, q.cursor) &&
			int(SeqnumDiff(q.packets[len(q.packets)-1].Seqnum, p.Seqnum)) < q.window) {
			q.cursor = p.Seqnum
		}
	}

	if SeqnumLt(p.Seqnum, q.cursor) {
		q.lateDropped++
		logrus.WithFields(logrus.Fields{
			"function": "SortedQueue.WritePacket",
			"seqnum":   p.Seqnum,
			"cursor":   q.cursor,
		}).Debug("Dropping late packet")
		p.Release()
		return nil
	}

	if int(SeqnumDiff(p.Seqnum, q.cursor)) >= q.window {
		q.advanceCursor(p.Seqnum - Seqnum(q.window) + 1)
	}

	// Insert position, scanning from the tail: packets mostly arrive in order.
	i := len(q.packets)
	for i > 0 && SeqnumLt(p.Seqnum, q.packets[i-1].Seqnum) {
		i--
	}
	if i > 0 && q.packets[i-1].Seqnum == p.Seqnum {
		q.duplicateDropped++
		p.Release()
		return nil
	}

	q.packets = append(q.packets, nil)
	copy(q.packets[i+1:], q.packets[i:])
	q.packets[i] = p
	return nil
}

// ReadPacket pops the packet with the lowest sequence number at or after the
// cursor, or ErrNoPacket.
func (q *SortedQueue) ReadPacket() (*Packet, error) {
	if len(q.packets) == 0 {
		return nil, ErrNoPacket
	}
	p := q.packets[0]
	copy(q.packets, q.packets[1:])
	q.packets = q.packets[:len(q.packets)-1]
	q.cursor = p.Seqnum + 1
	q.started = true
	return p, nil
}

// Size returns the number of queued packets.
func (q *SortedQueue) Size() int {
	return len(q.packets)
}

// LateDropped returns the number of packets dropped behind the cursor.
func (q *SortedQueue) LateDropped() uint64 {
	return q.lateDropped
}

// WindowDropped returns the number of stored packets lost to window overflow.
func (q *SortedQueue) WindowDropped() uint64 {
	return q.windowDropped
}

// DuplicateDropped returns the number of duplicate packets dropped.
func (q *SortedQueue) DuplicateDropped() uint64 {
	return q.duplicateDropped
}

func (q *SortedQueue) advanceCursor(to Seqnum) {
	logrus.WithFields(logrus.Fields{
		"function":   "SortedQueue.advanceCursor",
		"old_cursor": q.cursor,
		"new_cursor": to,
	}).Debug("Window overflow, advancing cursor")

	q.cursor = to
	kept := q.packets[:0]
	for _, p := range q.packets {
		if SeqnumLt(p.Seqnum, q.cursor) {
			q.windowDropped++
			p.Release()
			continue
		}
		kept = append(kept, p)
	}
	for i := len(kept); i < len(q.packets); i++ {
		q.packets[i] = nil
	}
	q.packets = kept
}
