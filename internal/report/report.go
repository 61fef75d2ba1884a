package report

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"shoptally/backend/internal/cache"
	"shoptally/backend/internal/domain"
)

// SalesSource is the slice of the repository the engine needs.
type SalesSource interface {
	ListSalesBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error)
}

// Engine computes revenue aggregates over stored sales. Results are pure
// functions of the sales in range, so they are cached per operation and
// date range with a short TTL.
type Engine struct {
	sales    SalesSource
	cache    cache.ReportCache
	cacheTTL time.Duration
}

func NewEngine(sales SalesSource, cacheStore cache.ReportCache, cacheTTL time.Duration) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopReportCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Engine{
		sales:    sales,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
	}
}

func (e *Engine) RevenueStats(ctx context.Context, from time.Time, to time.Time) (domain.RevenueStats, error) {
	key := buildCacheKey("revenue", from, to, 0)
	var stats domain.RevenueStats
	if hit, err := e.fromCache(ctx, key, &stats); err == nil && hit {
		return stats, nil
	}

	sales, err := e.sales.ListSalesBetween(ctx, from, to)
	if err != nil {
		return domain.RevenueStats{}, err
	}
	stats = revenueStats(sales)
	e.toCache(ctx, key, stats)
	return stats, nil
}

func (e *Engine) TopProducts(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.ProductRevenue, error) {
	if limit <= 0 {
		limit = 5
	}
	key := buildCacheKey("top-products", from, to, limit)
	var top []domain.ProductRevenue
	if hit, err := e.fromCache(ctx, key, &top); err == nil && hit {
		return top, nil
	}

	sales, err := e.sales.ListSalesBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	top = topProducts(sales, limit)
	e.toCache(ctx, key, top)
	return top, nil
}

func (e *Engine) RevenueByDay(ctx context.Context, from time.Time, to time.Time) ([]domain.DailyRevenue, error) {
	key := buildCacheKey("revenue-by-day", from, to, 0)
	var days []domain.DailyRevenue
	if hit, err := e.fromCache(ctx, key, &days); err == nil && hit {
		return days, nil
	}

	sales, err := e.sales.ListSalesBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	days = revenueByDay(sales)
	e.toCache(ctx, key, days)
	return days, nil
}

func (e *Engine) fromCache(ctx context.Context, key string, target any) (bool, error) {
	payload, ok, err := e.cache.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return false, nil
	}
	return true, nil
}

func (e *Engine) toCache(ctx context.Context, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	// Best effort: a cache write failure never fails the report.
	_ = e.cache.Set(ctx, key, payload, e.cacheTTL)
}

func revenueStats(sales []domain.Sale) domain.RevenueStats {
	stats := domain.RevenueStats{}
	for _, sale := range sales {
		stats.TotalRevenue += sale.Total
	}
	stats.TotalSales = len(sales)
	if stats.TotalSales > 0 {
		stats.AverageSale = stats.TotalRevenue / float64(stats.TotalSales)
	}
	return stats
}

func topProducts(sales []domain.Sale, limit int) []domain.ProductRevenue {
	grouped := make(map[string]*domain.ProductRevenue)
	order := make([]string, 0)
	for _, sale := range sales {
		for _, item := range sale.Items {
			entry, ok := grouped[item.ProductID]
			if !ok {
				entry = &domain.ProductRevenue{ProductID: item.ProductID, Name: item.Name}
				grouped[item.ProductID] = entry
				order = append(order, item.ProductID)
			}
			entry.Quantity += item.Quantity
			entry.Revenue += item.Total
		}
	}

	result := make([]domain.ProductRevenue, 0, len(order))
	for _, id := range order {
		result = append(result, *grouped[id])
	}
	// Stable sort keeps first-sold-first ordering between equal revenues.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Revenue > result[j].Revenue
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result
}

func revenueByDay(sales []domain.Sale) []domain.DailyRevenue {
	grouped := make(map[string]*domain.DailyRevenue)
	for _, sale := range sales {
		day := sale.CreatedAt.UTC().Format("2006-01-02")
		entry, ok := grouped[day]
		if !ok {
			entry = &domain.DailyRevenue{Date: day}
			grouped[day] = entry
		}
		entry.Revenue += sale.Total
		entry.Sales++
	}

	result := make([]domain.DailyRevenue, 0, len(grouped))
	for _, entry := range grouped {
		result = append(result, *entry)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date < result[j].Date
	})
	return result
}

func buildCacheKey(op string, from time.Time, to time.Time, limit int) string {
	raw := fmt.Sprintf("%s|%d|%d|%d", op, from.UnixNano(), to.UnixNano(), limit)
	hash := sha1.Sum([]byte(raw))
	return "pos:report:" + hex.EncodeToString(hash[:])
}
