package report

import (
	"context"
	"math"
	"testing"
	"time"

	"shoptally/backend/internal/domain"
)

type stubSales struct {
	sales []domain.Sale
	calls int
}

func (s *stubSales) ListSalesBetween(_ context.Context, _ time.Time, _ time.Time) ([]domain.Sale, error) {
	s.calls++
	return s.sales, nil
}

type mapCache struct {
	entries map[string][]byte
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	payload, ok := c.entries[key]
	return payload, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, payload []byte, _ time.Duration) error {
	c.entries[key] = payload
	return nil
}

func saleAt(day string, total float64, items ...domain.SaleItem) domain.Sale {
	createdAt, _ := time.ParseInLocation("2006-01-02", day, time.UTC)
	return domain.Sale{
		Total:     total,
		Items:     items,
		CreatedAt: createdAt.Add(10 * time.Hour),
	}
}

func almostEqual(a float64, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestRevenueStats(t *testing.T) {
	source := &stubSales{sales: []domain.Sale{
		saleAt("2026-08-01", 100),
		saleAt("2026-08-01", 200),
		saleAt("2026-08-02", 300),
	}}
	engine := NewEngine(source, nil, time.Second)

	stats, err := engine.RevenueStats(context.Background(), time.Time{}, time.Now())
	if err != nil {
		t.Fatalf("revenue stats: %v", err)
	}
	if !almostEqual(stats.TotalRevenue, 600) || stats.TotalSales != 3 || !almostEqual(stats.AverageSale, 200) {
		t.Fatalf("expected 600/3/200, got %+v", stats)
	}
}

func TestRevenueStatsEmpty(t *testing.T) {
	engine := NewEngine(&stubSales{}, nil, time.Second)

	stats, err := engine.RevenueStats(context.Background(), time.Time{}, time.Now())
	if err != nil {
		t.Fatalf("revenue stats: %v", err)
	}
	if stats.TotalRevenue != 0 || stats.TotalSales != 0 || stats.AverageSale != 0 {
		t.Fatalf("expected zero stats, got %+v", stats)
	}
}

func TestTopProductsGroupsAndRanks(t *testing.T) {
	source := &stubSales{sales: []domain.Sale{
		saleAt("2026-08-01", 0,
			domain.SaleItem{ProductID: "p1", Name: "Alpha", Quantity: 2, Total: 40},
			domain.SaleItem{ProductID: "p2", Name: "Beta", Quantity: 1, Total: 90},
		),
		saleAt("2026-08-02", 0,
			domain.SaleItem{ProductID: "p1", Name: "Alpha", Quantity: 3, Total: 60},
			domain.SaleItem{ProductID: "p3", Name: "Gamma", Quantity: 1, Total: 5},
		),
	}}
	engine := NewEngine(source, nil, time.Second)

	top, err := engine.TopProducts(context.Background(), time.Time{}, time.Now(), 2)
	if err != nil {
		t.Fatalf("top products: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected limit 2 to apply, got %d entries", len(top))
	}
	if top[0].ProductID != "p1" || top[0].Quantity != 5 || !almostEqual(top[0].Revenue, 100) {
		t.Fatalf("expected p1 first with qty 5 revenue 100, got %+v", top[0])
	}
	if top[1].ProductID != "p2" {
		t.Fatalf("expected p2 second, got %+v", top[1])
	}
}

func TestTopProductsTieKeepsFirstSeen(t *testing.T) {
	source := &stubSales{sales: []domain.Sale{
		saleAt("2026-08-01", 0,
			domain.SaleItem{ProductID: "p1", Name: "Alpha", Quantity: 1, Total: 50},
			domain.SaleItem{ProductID: "p2", Name: "Beta", Quantity: 1, Total: 50},
		),
	}}
	engine := NewEngine(source, nil, time.Second)

	top, err := engine.TopProducts(context.Background(), time.Time{}, time.Now(), 5)
	if err != nil {
		t.Fatalf("top products: %v", err)
	}
	if len(top) != 2 || top[0].ProductID != "p1" {
		t.Fatalf("expected stable first-seen ordering on ties, got %+v", top)
	}
}

func TestRevenueByDayAscending(t *testing.T) {
	source := &stubSales{sales: []domain.Sale{
		saleAt("2026-08-03", 30),
		saleAt("2026-08-01", 10),
		saleAt("2026-08-01", 15),
		saleAt("2026-08-02", 20),
	}}
	engine := NewEngine(source, nil, time.Second)

	days, err := engine.RevenueByDay(context.Background(), time.Time{}, time.Now())
	if err != nil {
		t.Fatalf("revenue by day: %v", err)
	}
	if len(days) != 3 {
		t.Fatalf("expected 3 buckets, got %d", len(days))
	}
	if days[0].Date != "2026-08-01" || !almostEqual(days[0].Revenue, 25) || days[0].Sales != 2 {
		t.Fatalf("unexpected first bucket: %+v", days[0])
	}
	if days[2].Date != "2026-08-03" {
		t.Fatalf("expected ascending dates, got %+v", days)
	}
}

func TestEngineCachesPerRange(t *testing.T) {
	source := &stubSales{sales: []domain.Sale{saleAt("2026-08-01", 100)}}
	engine := NewEngine(source, &mapCache{entries: make(map[string][]byte)}, time.Minute)

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	for i := 0; i < 2; i++ {
		stats, err := engine.RevenueStats(context.Background(), from, to)
		if err != nil {
			t.Fatalf("revenue stats call %d: %v", i, err)
		}
		if !almostEqual(stats.TotalRevenue, 100) {
			t.Fatalf("unexpected stats on call %d: %+v", i, stats)
		}
	}
	if source.calls != 1 {
		t.Fatalf("expected second call to hit the cache, repository queried %d times", source.calls)
	}

	// A different range must not reuse the cached payload.
	if _, err := engine.RevenueStats(context.Background(), from, to.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("revenue stats different range: %v", err)
	}
	if source.calls != 2 {
		t.Fatalf("expected distinct range to miss the cache, repository queried %d times", source.calls)
	}
}
