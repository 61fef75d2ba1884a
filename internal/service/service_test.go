package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"shoptally/backend/internal/cache"
	"shoptally/backend/internal/domain"
	"shoptally/backend/internal/report"
	"shoptally/backend/internal/store"
	"shoptally/backend/internal/store/memory"
)

func newTestService() *Service {
	repo := memory.New()
	engine := report.NewEngine(repo, cache.NoopReportCache{}, time.Second)
	return New(repo, engine)
}

func seedProduct(t *testing.T, svc *Service, name string, price float64, stock int) *domain.Product {
	t.Helper()
	product, err := svc.CreateProduct(context.Background(), domain.ProductCreateRequest{
		Name:  name,
		Price: price,
		Cost:  price / 2,
		Stock: stock,
	})
	if err != nil {
		t.Fatalf("seed product %s: %v", name, err)
	}
	return product
}

func almostEqual(a float64, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCreateSaleHappyPath(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	product := seedProduct(t, svc, "Widget", 100, 10)

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{{ProductID: product.ID, Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	if !almostEqual(sale.Subtotal, 300) || !almostEqual(sale.Total, 300) {
		t.Fatalf("expected subtotal and total 300, got %v / %v", sale.Subtotal, sale.Total)
	}
	if len(sale.Items) != 1 || sale.Items[0].Name != "Widget" || !almostEqual(sale.Items[0].Price, 100) {
		t.Fatalf("unexpected item snapshot: %+v", sale.Items)
	}
	if sale.PaymentMethod != domain.PaymentMethodCash || sale.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected payment defaults cash/paid, got %s/%s", sale.PaymentMethod, sale.PaymentStatus)
	}

	wantInvoice := fmt.Sprintf("INV-%s-001", time.Now().UTC().Format("20060102"))
	if sale.InvoiceNumber != wantInvoice {
		t.Fatalf("expected invoice %s, got %s", wantInvoice, sale.InvoiceNumber)
	}

	after, err := svc.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.Stock != 7 {
		t.Fatalf("expected stock 7 after sale, got %d", after.Stock)
	}
}

func TestCreateSaleInsufficientStock(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	product := seedProduct(t, svc, "Widget", 100, 10)

	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{{ProductID: product.ID, Quantity: 11}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	after, err := svc.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.Stock != 10 {
		t.Fatalf("expected stock unchanged at 10, got %d", after.Stock)
	}
}

func TestCreateSaleIsAtomicAcrossItems(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	plenty := seedProduct(t, svc, "Plenty", 10, 100)
	scarce := seedProduct(t, svc, "Scarce", 20, 1)

	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{
			{ProductID: plenty.ID, Quantity: 5},
			{ProductID: scarce.ID, Quantity: 2},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	for _, product := range []*domain.Product{plenty, scarce} {
		after, err := svc.GetProduct(ctx, product.ID)
		if err != nil {
			t.Fatalf("get product: %v", err)
		}
		if after.Stock != product.Stock {
			t.Fatalf("expected %s stock unchanged at %d, got %d", product.Name, product.Stock, after.Stock)
		}
	}
}

func TestCreateSaleAppliesTaxAndDiscount(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	product := seedProduct(t, svc, "Widget", 100, 10)

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items:    []domain.SaleItemRequest{{ProductID: product.ID, Quantity: 2}},
		Tax:      10,
		Discount: 20,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	// 200 + 200*10% - 20
	if !almostEqual(sale.Total, 200) {
		t.Fatalf("expected total 200, got %v", sale.Total)
	}
}

func TestCreateSaleClampsNegativeTotal(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	product := seedProduct(t, svc, "Cheap", 1, 5)

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items:    []domain.SaleItemRequest{{ProductID: product.ID, Quantity: 1}},
		Discount: 50,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if sale.Total != 0 {
		t.Fatalf("expected total clamped to 0, got %v", sale.Total)
	}
}

func TestCreateSaleAggregatesDuplicateLines(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	product := seedProduct(t, svc, "Widget", 100, 10)

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{
			{ProductID: product.ID, Quantity: 1},
			{ProductID: product.ID, Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if len(sale.Items) != 1 || sale.Items[0].Quantity != 3 {
		t.Fatalf("expected one aggregated line with quantity 3, got %+v", sale.Items)
	}
}

func TestCreateSaleRejectsBadRequests(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	product := seedProduct(t, svc, "Widget", 100, 10)

	if _, err := svc.CreateSale(ctx, domain.SaleCreateRequest{}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty items, got %v", err)
	}

	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items:         []domain.SaleItemRequest{{ProductID: product.ID, Quantity: 1}},
		PaymentMethod: "bitcoin",
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown payment method, got %v", err)
	}

	_, err = svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{{ProductID: "prod-missing", Quantity: 1}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown product, got %v", err)
	}
}

func TestInvoiceNumbersAreSequentialAndUnique(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	product := seedProduct(t, svc, "Widget", 5, 100)

	seen := make(map[string]bool)
	for i := 1; i <= 3; i++ {
		sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
			Items: []domain.SaleItemRequest{{ProductID: product.ID, Quantity: 1}},
		})
		if err != nil {
			t.Fatalf("create sale %d: %v", i, err)
		}
		want := fmt.Sprintf("INV-%s-%03d", time.Now().UTC().Format("20060102"), i)
		if sale.InvoiceNumber != want {
			t.Fatalf("expected invoice %s, got %s", want, sale.InvoiceNumber)
		}
		if seen[sale.InvoiceNumber] {
			t.Fatalf("duplicate invoice number %s", sale.InvoiceNumber)
		}
		seen[sale.InvoiceNumber] = true
	}
}

func TestAdjustStockOperations(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	product := seedProduct(t, svc, "Widget", 100, 10)

	after, err := svc.AdjustStock(ctx, product.ID, domain.StockAdjustRequest{Operation: "add", Quantity: 5})
	if err != nil {
		t.Fatalf("add stock: %v", err)
	}
	if after.Stock != 15 {
		t.Fatalf("expected stock 15, got %d", after.Stock)
	}

	after, err = svc.AdjustStock(ctx, product.ID, domain.StockAdjustRequest{Operation: "subtract", Quantity: 15})
	if err != nil {
		t.Fatalf("subtract stock: %v", err)
	}
	if after.Stock != 0 {
		t.Fatalf("expected stock 0, got %d", after.Stock)
	}

	if _, err := svc.AdjustStock(ctx, product.ID, domain.StockAdjustRequest{Operation: "subtract", Quantity: 1}); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if _, err := svc.AdjustStock(ctx, product.ID, domain.StockAdjustRequest{Operation: "multiply", Quantity: 2}); !errors.Is(err, store.ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
	if _, err := svc.AdjustStock(ctx, product.ID, domain.StockAdjustRequest{Operation: "add", Quantity: 0}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for zero quantity, got %v", err)
	}
}

func TestCreateProductValidationAndNormalization(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "   "}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for blank name, got %v", err)
	}
	if _, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Widget", Price: -1}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for negative price, got %v", err)
	}

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "  Widget ", SKU: " wid-01 ", Price: 2})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if product.Name != "Widget" || product.SKU != "WID-01" {
		t.Fatalf("expected normalized name and SKU, got %q / %q", product.Name, product.SKU)
	}

	if _, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Other", SKU: "wid-01"}); !errors.Is(err, store.ErrDuplicateSKU) {
		t.Fatalf("expected ErrDuplicateSKU, got %v", err)
	}
}

func TestUpdateProductPartialPatch(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	product := seedProduct(t, svc, "Widget", 100, 10)

	newPrice := 120.0
	updated, err := svc.UpdateProduct(ctx, product.ID, domain.ProductUpdateRequest{Price: &newPrice})
	if err != nil {
		t.Fatalf("update product: %v", err)
	}
	if !almostEqual(updated.Price, 120) || updated.Name != "Widget" || updated.Stock != 10 {
		t.Fatalf("expected only price to change, got %+v", updated)
	}

	if _, err := svc.UpdateProduct(ctx, "prod-missing", domain.ProductUpdateRequest{Price: &newPrice}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevenueStatsOverServiceRange(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	product := seedProduct(t, svc, "Widget", 100, 100)

	for _, qty := range []int{1, 2, 3} {
		if _, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
			Items: []domain.SaleItemRequest{{ProductID: product.ID, Quantity: qty}},
		}); err != nil {
			t.Fatalf("create sale: %v", err)
		}
	}

	today := time.Now().UTC().Format("2006-01-02")
	stats, err := svc.RevenueStats(ctx, today, today)
	if err != nil {
		t.Fatalf("revenue stats: %v", err)
	}
	if !almostEqual(stats.TotalRevenue, 600) || stats.TotalSales != 3 || !almostEqual(stats.AverageSale, 200) {
		t.Fatalf("expected 600/3/200, got %+v", stats)
	}

	empty, err := svc.RevenueStats(ctx, "2001-01-01", "2001-01-02")
	if err != nil {
		t.Fatalf("revenue stats empty range: %v", err)
	}
	if empty.TotalRevenue != 0 || empty.TotalSales != 0 || empty.AverageSale != 0 {
		t.Fatalf("expected zero stats for empty range, got %+v", empty)
	}

	if _, err := svc.RevenueStats(ctx, "not-a-date", ""); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for bad date, got %v", err)
	}
	if _, err := svc.RevenueStats(ctx, "2024-02-02", "2024-02-01"); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for inverted range, got %v", err)
	}
}

func TestListSalesNewestFirst(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	product := seedProduct(t, svc, "Widget", 10, 100)

	var last *domain.Sale
	for i := 0; i < 3; i++ {
		sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
			Items: []domain.SaleItemRequest{{ProductID: product.ID, Quantity: 1}},
		})
		if err != nil {
			t.Fatalf("create sale: %v", err)
		}
		last = sale
		time.Sleep(2 * time.Millisecond)
	}

	sales, err := svc.ListSales(ctx, 2)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 2 {
		t.Fatalf("expected limit 2 to apply, got %d sales", len(sales))
	}
	if sales[0].ID != last.ID {
		t.Fatalf("expected newest sale first, got %s", sales[0].ID)
	}
}
