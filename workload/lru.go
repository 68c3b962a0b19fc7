package workload

import "math"

const nullSlot uint32 = math.MaxUint32

type lruHead struct {
	next uint32
	prev uint32
}

// loaderLRU orders loader slots by last use, most recent first.
type loaderLRU struct {
	heads []lruHead

	next uint32
	prev uint32
	size uint32
}

func newLoaderLRU(numSlots int) *loaderLRU {
	return &loaderLRU{
		heads: make([]lruHead, numSlots),

		next: nullSlot,
		prev: nullSlot,
		size: 0,
	}
}

func (l *loaderLRU) contents() []uint32 {
	var result []uint32
	n := l.next
	for n != nullSlot {
		result = append(result, n)
		n = l.heads[n].next
	}
	return result
}

func (l *loaderLRU) insertFront(slot uint32) {
	head := &l.heads[slot]
	if l.next != nullSlot {
		l.heads[l.next].prev = slot
	} else {
		l.prev = slot
	}

	head.next = l.next
	head.prev = nullSlot
	l.next = slot
}

func (l *loaderLRU) unlink(slot uint32) {
	head := &l.heads[slot]
	if head.next != nullSlot {
		l.heads[head.next].prev = head.prev
	} else {
		l.prev = head.prev
	}

	if head.prev != nullSlot {
		l.heads[head.prev].next = head.next
	} else {
		l.next = head.next
	}
}

func (l *loaderLRU) put(slot uint32) {
	l.size++
	l.insertFront(slot)
}

// last returns the least recently used slot.
func (l *loaderLRU) last() (uint32, bool) {
	if l.prev == nullSlot {
		return 0, false
	}
	return l.prev, true
}

func (l *loaderLRU) delete(slot uint32) {
	l.size--
	l.unlink(slot)
}

func (l *loaderLRU) touch(slot uint32) {
	l.unlink(slot)
	l.insertFront(slot)
}
