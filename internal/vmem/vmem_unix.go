//go:build linux || darwin

package vmem

import (
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

type mapped struct {
	data []byte
}

var _ Reservation = &mapped{}

// Reserve maps an inaccessible anonymous range of the given size.
// Committing a range makes it readable and writable.
func Reserve(words uint64) (Reservation, error) {
	size := words * bytesPerWord
	if size == 0 || size%uint64(os.Getpagesize()) != 0 {
		return nil, errors.Wrapf(ErrRange, "reserve %d words", words)
	}
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_NORESERVE)
	if err != nil {
		return nil, errors.Wrapf(err, "vmem: reserve %d bytes", size)
	}
	return &mapped{data: data}, nil
}

// ReserveGranularity returns the Granularity of reservations made by Reserve.
func ReserveGranularity() uint64 {
	return uint64(os.Getpagesize()) / bytesPerWord
}

// WordSize ...
func (m *mapped) WordSize() uint64 {
	return uint64(len(m.data)) / bytesPerWord
}

// Granularity ...
func (m *mapped) Granularity() uint64 {
	return ReserveGranularity()
}

func (m *mapped) slice(offsetWords, words uint64) ([]byte, error) {
	if m.data == nil {
		return nil, ErrReleased
	}
	if err := checkRange(m, offsetWords, words); err != nil {
		return nil, err
	}
	return m.data[offsetWords*bytesPerWord : (offsetWords+words)*bytesPerWord], nil
}

// Commit ...
func (m *mapped) Commit(offsetWords, words uint64) error {
	b, err := m.slice(offsetWords, words)
	if err != nil || len(b) == 0 {
		return err
	}
	if err := unix.Mprotect(b, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return errors.Wrapf(err, "vmem: commit at word %d", offsetWords)
	}
	return nil
}

// Uncommit ...
func (m *mapped) Uncommit(offsetWords, words uint64) error {
	b, err := m.slice(offsetWords, words)
	if err != nil || len(b) == 0 {
		return err
	}
	if err := unix.Madvise(b, unix.MADV_DONTNEED); err != nil {
		return errors.Wrapf(err, "vmem: uncommit at word %d", offsetWords)
	}
	if err := unix.Mprotect(b, unix.PROT_NONE); err != nil {
		return errors.Wrapf(err, "vmem: protect at word %d", offsetWords)
	}
	return nil
}

// Bytes ...
func (m *mapped) Bytes(offsetWords, words uint64) []byte {
	b, err := m.slice(offsetWords, words)
	if err != nil {
		return nil
	}
	return b
}

// Release ...
func (m *mapped) Release() error {
	if m.data == nil {
		return ErrReleased
	}
	err := unix.Munmap(m.data)
	m.data = nil
	if err != nil {
		return errors.Wrap(err, "vmem: release")
	}
	return nil
}
