package reportid

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"
)

const (
	prefix = "CVC-"
	maxSeq = 99
)

// Pattern matches ids minted by Generator.
var Pattern = regexp.MustCompile(`^CVC-\d{8}-\d{6}(-\d{2})?$`)

// Generator mints report ids of the form CVC-YYYYMMDD-HHMMSS-NN.
//
// NN is a per-second sequence starting at 01. When the second changes the
// sequence resets. If a second runs out of sequence numbers, or the clock
// steps backwards, the generator keeps counting on its own logical second
// so ids stay unique and sort in creation order.
type Generator struct {
	mu   sync.Mutex
	last time.Time
	seq  int
}

func New() *Generator {
	return &Generator{}
}

// Resume continues the sequence after id, typically the newest id already
// stored, so a restarted process never mints it again. Ids older than the
// generator's current position are ignored.
func (g *Generator) Resume(id string) error {
	if !Pattern.MatchString(id) {
		return fmt.Errorf("malformed report id %q", id)
	}
	stamp, err := time.Parse("20060102-150405", id[len(prefix):len(prefix)+15])
	if err != nil {
		return fmt.Errorf("report id %q: %w", id, err)
	}
	seq := 1
	if len(id) > len(prefix)+15 {
		if seq, err = strconv.Atoi(id[len(prefix)+16:]); err != nil {
			return fmt.Errorf("report id %q: %w", id, err)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if stamp.After(g.last) || (stamp.Equal(g.last) && seq > g.seq) {
		g.last, g.seq = stamp.UTC(), seq
	}
	return nil
}

// Next returns the next id for a report created at now.
func (g *Generator) Next(now time.Time) string {
	sec := now.UTC().Truncate(time.Second)

	g.mu.Lock()
	switch {
	case sec.After(g.last):
		g.last, g.seq = sec, 1
	case g.seq >= maxSeq:
		g.last, g.seq = g.last.Add(time.Second), 1
	default:
		g.seq++
	}
	stamp, seq := g.last, g.seq
	g.mu.Unlock()

	return fmt.Sprintf("%s%s-%02d", prefix, stamp.Format("20060102-150405"), seq)
}
