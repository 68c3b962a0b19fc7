package allocator

import (
	"fmt"
	"io"

	"github.com/QuangTung97/metaspace/chunklevel"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

var byteUnits = []string{"bytes", "KB", "MB", "GB", "TB"}

// formatScaledWords prints a word size as bytes with a unit, e.g. "4.00 MB".
func formatScaledWords(words uint64) string {
	size := float64(words * chunklevel.BytesPerWord)
	unit := 0
	for size >= 1024 && unit < len(byteUnits)-1 {
		size /= 1024
		unit++
	}
	if unit == 0 {
		return printer.Sprintf("%d %s", words*chunklevel.BytesPerWord, byteUnits[0])
	}
	return printer.Sprintf("%.2f %s", size, byteUnits[unit])
}

// formatWordSizeDelta prints "before->after (+/-delta)" or "size (no change)".
func formatWordSizeDelta(before, after uint64) string {
	if before == after {
		return formatScaledWords(before) + " (no change)"
	}
	if after < before {
		return fmt.Sprintf("%s->%s (-%s)", formatScaledWords(before), formatScaledWords(after), formatScaledWords(before-after))
	}
	return fmt.Sprintf("%s->%s (+%s)", formatScaledWords(before), formatScaledWords(after), formatScaledWords(after-before))
}

// String ...
func (r ReclaimReport) String() string {
	if r.NothingReclaimed() {
		return "nothing reclaimed"
	}
	return fmt.Sprintf("reserved: %s\ncommitted: %s\nfull nodes purged: %d",
		formatWordSizeDelta(r.ReservedWordsBefore, r.ReservedWordsAfter),
		formatWordSizeDelta(r.CommittedWordsBefore, r.CommittedWordsAfter),
		r.NodesPurged)
}

// WriteJSON ...
func (r ReclaimReport) WriteJSON(json jwriter.ObjectState) {
	json.Name("reservedWordsBefore").Int(int(r.ReservedWordsBefore))
	json.Name("reservedWordsAfter").Int(int(r.ReservedWordsAfter))
	json.Name("committedWordsBefore").Int(int(r.CommittedWordsBefore))
	json.Name("committedWordsAfter").Int(int(r.CommittedWordsAfter))
	json.Name("nodesPurged").Int(r.NodesPurged)
	json.Name("chunksUncommitted").Int(r.ChunksUncommitted)
}

// PrintOn prints a table of free chunks per level.
func (s *ChunkManagerStats) PrintOn(w io.Writer) {
	for i, num := range s.NumChunks {
		if num == 0 {
			continue
		}
		l := chunklevel.Level(i)
		printer.Fprintf(w, "%s: %d chunks, %s, committed %s\n", l, num,
			formatScaledWords(uint64(num)*chunklevel.WordSizeForLevel(l)), formatScaledWords(s.CommittedWordSize[i]))
	}
	printer.Fprintf(w, "total: %d chunks, %s, committed %s\n", s.TotalNumChunks(),
		formatScaledWords(s.TotalWordSize()), formatScaledWords(s.TotalCommittedWordSize()))
}

// PrintOn prints the free chunks level by level.
func (m *ChunkManager) PrintOn(w io.Writer) {
	m.provider.Lock()
	defer m.provider.Unlock()

	printer.Fprintf(w, "cm %s: %d chunks, total word size: %d, committed word size: %d\n",
		m.name, m.chunks.NumChunks(), m.chunks.WordSize(), m.chunks.CommittedWords())
	for _, l := range chunklevel.Levels() {
		if m.chunks.NumChunksAtLevel(l) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s:", l)
		for c := m.chunks.FirstAtLevel(l); c != nil; c = m.chunks.Next(c) {
			fmt.Fprintf(w, " %#x", uint64(c.base))
			switch {
			case c.IsFullyCommitted():
				fmt.Fprint(w, "(c)")
			case c.committedWords > 0:
				fmt.Fprint(w, "(p)")
			}
		}
		printer.Fprintf(w, " - total: %d chunks, committed %d words\n",
			m.chunks.NumChunksAtLevel(l), m.chunks.CommittedWordsAtLevel(l))
	}
}

// PrintDetailedMap writes the free lists as JSON.
func (m *ChunkManager) PrintDetailedMap(json jwriter.ObjectState) {
	m.provider.Lock()
	defer m.provider.Unlock()

	json.Name("name").String(m.name)
	json.Name("numChunks").Int(m.chunks.NumChunks())
	json.Name("wordSize").Int(int(m.chunks.WordSize()))
	json.Name("committedWordSize").Int(int(m.chunks.CommittedWords()))
	json.Name("reservedWords").Int(int(m.provider.ReservedWords()))
	json.Name("committedWords").Int(int(m.provider.CommittedWords()))

	levels := json.Name("levels").Array()
	for _, l := range chunklevel.Levels() {
		if m.chunks.NumChunksAtLevel(l) == 0 {
			continue
		}
		obj := levels.Object()
		obj.Name("level").String(l.String())
		obj.Name("numChunks").Int(m.chunks.NumChunksAtLevel(l))
		obj.Name("committedWords").Int(int(m.chunks.CommittedWordsAtLevel(l)))
		bases := obj.Name("bases").Array()
		for c := m.chunks.FirstAtLevel(l); c != nil; c = m.chunks.Next(c) {
			bases.Int(int(c.base))
		}
		bases.End()
		obj.End()
	}
	levels.End()
}

// PrintOn prints every node with its commit mask. It takes the lock.
func (l *VirtualSpaceList) PrintOn(w io.Writer) {
	l.Lock()
	defer l.Unlock()

	printer.Fprintf(w, "vsl %s: %d nodes, reserved %s, committed %s\n", l.name, len(l.nodes),
		formatScaledWords(l.reservedWords), formatScaledWords(l.committedWords))
	for _, n := range l.nodes {
		fmt.Fprintf(w, "node %d: base %#x, used %s of %s, committed %s\n", n.id, uint64(n.base),
			formatScaledWords(n.usedWords), formatScaledWords(n.wordSize), formatScaledWords(n.CommittedWords()))
		fmt.Fprintf(w, "commit mask: %s\n", n.mask)
	}
}
