package continuity

import "github.com/shubham-shewale/bullion-desk/pkg/models"

// Ring is a fixed-capacity FIFO of series points. Not safe for concurrent use;
// Filter serializes access per symbol.
type Ring struct {
	buf   []models.SeriesPoint
	start int
	n     int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{buf: make([]models.SeriesPoint, capacity)}
}

// Push appends p, evicting the oldest point when full.
func (r *Ring) Push(p models.SeriesPoint) (evicted bool) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = p
		r.n++
		return false
	}
	r.buf[r.start] = p
	r.start = (r.start + 1) % len(r.buf)
	return true
}

func (r *Ring) Len() int { return r.n }

func (r *Ring) Cap() int { return len(r.buf) }

// Snapshot copies the points oldest first.
func (r *Ring) Snapshot() []models.SeriesPoint {
	out := make([]models.SeriesPoint, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *Ring) Last() (models.SeriesPoint, bool) {
	if r.n == 0 {
		return models.SeriesPoint{}, false
	}
	return r.buf[(r.start+r.n-1)%len(r.buf)], true
}
