//go:build !(linux || darwin)

package vmem

type heap struct {
	data []byte
}

var _ Reservation = &heap{}

// Reserve allocates the range on the Go heap. Commit and Uncommit only validate ranges.
func Reserve(words uint64) (Reservation, error) {
	return &heap{data: make([]byte, words*bytesPerWord)}, nil
}

// ReserveGranularity returns the Granularity of reservations made by Reserve.
func ReserveGranularity() uint64 {
	return 1
}

// WordSize ...
func (h *heap) WordSize() uint64 {
	return uint64(len(h.data)) / bytesPerWord
}

// Granularity ...
func (h *heap) Granularity() uint64 {
	return 1
}

// Commit ...
func (h *heap) Commit(offsetWords, words uint64) error {
	if h.data == nil {
		return ErrReleased
	}
	return checkRange(h, offsetWords, words)
}

// Uncommit ...
func (h *heap) Uncommit(offsetWords, words uint64) error {
	if h.data == nil {
		return ErrReleased
	}
	if err := checkRange(h, offsetWords, words); err != nil {
		return err
	}
	clear(h.data[offsetWords*bytesPerWord : (offsetWords+words)*bytesPerWord])
	return nil
}

// Bytes ...
func (h *heap) Bytes(offsetWords, words uint64) []byte {
	if h.data == nil || checkRange(h, offsetWords, words) != nil {
		return nil
	}
	return h.data[offsetWords*bytesPerWord : (offsetWords+words)*bytesPerWord]
}

// Release ...
func (h *heap) Release() error {
	if h.data == nil {
		return ErrReleased
	}
	h.data = nil
	return nil
}
