package continuity_test

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shubham-shewale/bullion-desk/cmd/gateway/internal/continuity"
	"github.com/shubham-shewale/bullion-desk/pkg/models"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func newFilter(capacity int) (*continuity.Filter, *clock) {
	c := &clock{now: t0}
	return continuity.New(capacity, time.Second, zap.NewNop(), continuity.WithClock(c.Now)), c
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func spot(sym models.Symbol, v string) models.PriceTick {
	return models.PriceTick{Symbol: sym, Spot: dec(v), ObservedAt: t0}
}

func values(points []models.SeriesPoint) []string {
	out := make([]string, len(points))
	for i, p := range points {
		out[i] = p.Value.String()
	}
	return out
}

func assertValues(t *testing.T, got []models.SeriesPoint, want ...string) {
	t.Helper()
	vs := values(got)
	if len(vs) != len(want) {
		t.Fatalf("Expected %v, got %v", want, vs)
	}
	for i := range want {
		if vs[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, vs)
		}
	}
}

func TestFilter_OnlineAppendsVerbatim(t *testing.T) {
	f, c := newFilter(10)

	f.Observe(spot("spot", "2300.5"))
	c.Advance(100 * time.Millisecond)
	f.Observe(spot("spot", "2301.25"))

	assertValues(t, f.Series("spot", models.SeriesSpot), "2300.5", "2301.25")
	if got := f.Series("spot", models.SeriesBuy); len(got) != 0 {
		t.Errorf("Expected no buy points for a spot-only tick, got %d", len(got))
	}
	if v, ok := f.LastKnown("spot", models.SeriesSpot); !ok || v.String() != "2301.25" {
		t.Errorf("Expected last known 2301.25, got %v (%v)", v, ok)
	}
}

func TestFilter_PausedHoldsLastValue(t *testing.T) {
	f, c := newFilter(10)

	f.Observe(spot("spot", "2300"))
	f.SetControl("spot", models.ControlPaused)

	f.Observe(spot("spot", "2310"))
	f.Heartbeat(c.Advance(time.Second)) // tick at t0 counts for this period
	f.Observe(spot("spot", "2320"))
	f.Heartbeat(c.Advance(time.Second))
	f.Heartbeat(c.Advance(time.Second))

	assertValues(t, f.Series("spot", models.SeriesSpot), "2300", "2300", "2300")
}

func TestFilter_HeartbeatOnePointPerPeriod(t *testing.T) {
	f, c := newFilter(50)

	f.Heartbeat(c.Advance(time.Second))
	if got := f.Series("gold96", models.SeriesSpot); len(got) != 0 {
		t.Fatalf("Expected no points before the first tick, got %d", len(got))
	}

	f.Observe(spot("gold96", "41000"))
	f.Heartbeat(c.Advance(time.Second))
	for i := 0; i < 5; i++ {
		f.Heartbeat(c.Advance(time.Second))
	}

	got := f.Series("gold96", models.SeriesSpot)
	if len(got) != 6 {
		t.Fatalf("Expected 1 tick point + 5 heartbeat points, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Errorf("Expected increasing timestamps at %d", i)
		}
		if got[i].Value.String() != "41000" {
			t.Errorf("Expected heartbeat value 41000, got %s", got[i].Value)
		}
	}
}

func TestFilter_ActiveFeedSuppressesHeartbeat(t *testing.T) {
	f, c := newFilter(50)

	for i := 0; i < 4; i++ {
		f.Observe(spot("spot", "2300"))
		f.Heartbeat(c.Advance(time.Second))
	}

	if got := f.Series("spot", models.SeriesSpot); len(got) != 4 {
		t.Errorf("Expected only the 4 tick points, got %d", len(got))
	}
}

func TestFilter_StoppedAppendsZeroAndKeepsCache(t *testing.T) {
	f, c := newFilter(10)

	f.Observe(models.PriceTick{Symbol: "gold96", Buy: dec("41000"), Sell: dec("40900"), ObservedAt: t0})
	f.SetControl("gold96", models.ControlStopped)

	f.Observe(models.PriceTick{Symbol: "gold96", Buy: dec("41100"), Sell: dec("41000"), ObservedAt: t0})
	f.Heartbeat(c.Advance(time.Second))
	f.Heartbeat(c.Advance(time.Second))

	assertValues(t, f.Series("gold96", models.SeriesBuy), "41000", "0", "0")
	assertValues(t, f.Series("gold96", models.SeriesSell), "40900", "0", "0")

	if v, ok := f.LastKnown("gold96", models.SeriesBuy); !ok || v.String() != "41000" {
		t.Errorf("Expected cached buy 41000 after stop, got %v", v)
	}

	f.SetControl("gold96", models.ControlOnline)
	f.Heartbeat(c.Advance(time.Second))
	assertValues(t, f.Series("gold96", models.SeriesBuy), "41000", "0", "0", "41000")
}

func TestFilter_ResumeDoesNotReplay(t *testing.T) {
	f, c := newFilter(10)

	f.Observe(spot("spot", "2300"))
	f.SetControl("spot", models.ControlPaused)
	f.Observe(spot("spot", "2310"))
	f.Observe(spot("spot", "2320"))
	if prev := f.SetControl("spot", models.ControlOnline); prev != models.ControlPaused {
		t.Errorf("Expected previous state PAUSED, got %s", prev)
	}
	c.Advance(time.Second)
	f.Observe(spot("spot", "2330"))

	assertValues(t, f.Series("spot", models.SeriesSpot), "2300", "2330")
}

func TestFilter_CapacityEvictsOldest(t *testing.T) {
	f, c := newFilter(3)

	for _, v := range []string{"1", "2", "3", "4", "5"} {
		f.Observe(spot("spot", v))
		c.Advance(time.Millisecond)
	}

	assertValues(t, f.Series("spot", models.SeriesSpot), "3", "4", "5")
}

func TestFilter_SeriesIsACopy(t *testing.T) {
	f, _ := newFilter(3)
	f.Observe(spot("spot", "1"))

	got := f.Series("spot", models.SeriesSpot)
	got[0].Value = decimal.NewFromInt(99)

	assertValues(t, f.Series("spot", models.SeriesSpot), "1")
}

func TestFilter_SymbolsAreIndependent(t *testing.T) {
	f, _ := newFilter(10)

	f.SetControl("spot", models.ControlPaused)
	f.Observe(spot("spot", "2300"))
	f.Observe(spot("gold96", "41000"))

	if f.Control("gold96") != models.ControlOnline {
		t.Errorf("Expected gold96 to default to ONLINE")
	}
	assertValues(t, f.Series("spot", models.SeriesSpot))
	assertValues(t, f.Series("gold96", models.SeriesSpot), "41000")
}

func TestFilter_ReadsDoNotCreateSymbols(t *testing.T) {
	f, _ := newFilter(10)
	f.Observe(spot("spot", "2300"))

	for i := 0; i < 100; i++ {
		sym := models.Symbol("ghost-" + strconv.Itoa(i))
		f.Series(sym, models.SeriesSpot)
		f.LastKnown(sym, models.SeriesBuy)
		f.ReferencePrice(sym, models.Sell)
		if st := f.Control(sym); st != models.ControlOnline {
			t.Fatalf("Expected unseen %s to read ONLINE, got %s", sym, st)
		}
		f.SetControl(sym, models.ControlOnline)
	}

	got := f.Controls()
	if len(got) != 1 || got["spot"] != models.ControlOnline {
		t.Errorf("Expected only spot to hold state, got %v", got)
	}

	if prev := f.SetControl("silver", models.ControlStopped); prev != models.ControlOnline {
		t.Errorf("Expected previous ONLINE, got %s", prev)
	}
	if got := f.Controls(); len(got) != 2 || got["silver"] != models.ControlStopped {
		t.Errorf("Expected a gated symbol to hold state, got %v", got)
	}
}

func TestFilter_SinkSeesEveryAppend(t *testing.T) {
	f, c := newFilter(10)

	var mu sync.Mutex
	var kinds []models.SeriesKind
	f.SetSink(func(sym models.Symbol, kind models.SeriesKind, p models.SeriesPoint) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, kind)
	})

	f.Observe(models.PriceTick{Symbol: "gold96", Buy: dec("41000"), Sell: dec("40900"), ObservedAt: t0})
	f.Heartbeat(c.Advance(time.Second))
	f.Heartbeat(c.Advance(time.Second))

	mu.Lock()
	defer mu.Unlock()
	if len(kinds) != 4 {
		t.Fatalf("Expected 2 tick + 2 heartbeat appends, got %v", kinds)
	}
	if kinds[0] != models.SeriesBuy || kinds[1] != models.SeriesSell {
		t.Errorf("Expected buy then sell, got %v", kinds[:2])
	}
}

func TestFilter_ReferencePrice(t *testing.T) {
	f, _ := newFilter(10)

	if _, ok := f.ReferencePrice("gold96", models.Buy); ok {
		t.Fatal("Expected no reference price before any tick")
	}

	f.Observe(models.PriceTick{Symbol: "gold96", Buy: dec("41000"), Sell: dec("40900"), ObservedAt: t0})
	f.Observe(spot("spot", "2300"))

	cases := []struct {
		sym  models.Symbol
		side models.Side
		want string
	}{
		{"gold96", models.Buy, "41000"},
		{"gold96", models.Sell, "40900"},
		{"spot", models.Buy, "2300"},
		{"spot", models.Sell, "2300"},
	}
	for _, tc := range cases {
		v, ok := f.ReferencePrice(tc.sym, tc.side)
		if !ok || v.String() != tc.want {
			t.Errorf("%s %s: expected %s, got %v (%v)", tc.sym, tc.side, tc.want, v, ok)
		}
	}
}

func TestFilter_ConcurrentObserveAndHeartbeat(t *testing.T) {
	f, c := newFilter(20)
	f.Observe(spot("spot", "1"))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				f.Observe(spot("spot", "2"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				f.Heartbeat(c.Advance(time.Millisecond))
			}
		}()
	}
	wg.Wait()

	if got := f.Series("spot", models.SeriesSpot); len(got) != 20 {
		t.Errorf("Expected a full ring of 20, got %d", len(got))
	}
}

func TestRing(t *testing.T) {
	r := continuity.NewRing(2)
	if _, ok := r.Last(); ok {
		t.Fatal("Expected empty ring to have no last point")
	}
	r.Push(models.SeriesPoint{Value: decimal.NewFromInt(1)})
	r.Push(models.SeriesPoint{Value: decimal.NewFromInt(2)})
	if evicted := r.Push(models.SeriesPoint{Value: decimal.NewFromInt(3)}); !evicted {
		t.Error("Expected push into a full ring to evict")
	}
	if last, _ := r.Last(); last.Value.IntPart() != 3 {
		t.Errorf("Expected last 3, got %s", last.Value)
	}
	assertValues(t, r.Snapshot(), "2", "3")
}
