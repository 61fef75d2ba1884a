package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"shoptally/backend/internal/domain"
	"shoptally/backend/internal/store"
	"shoptally/backend/internal/xid"
)

// Store is an in-memory Repository used by tests and database-less runs.
type Store struct {
	mu         sync.RWMutex
	products   map[string]domain.Product
	sales      map[string]domain.Sale
	invoiceSeq map[string]int
}

func New() *Store {
	return &Store{
		products:   make(map[string]domain.Product),
		sales:      make(map[string]domain.Sale),
		invoiceSeq: make(map[string]int),
	}
}

// NewSeeded returns a store preloaded with a small catalog so the server
// is usable without a database.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	seed := []domain.Product{
		{Name: "Espresso Beans 1kg", Description: "Dark roast arabica", Price: 18.50, Cost: 11.00, Stock: 40, Category: "beverage", SKU: "BEAN-1KG"},
		{Name: "Paper Cups 12oz (50pk)", Price: 6.75, Cost: 3.20, Stock: 120, Category: "supplies", SKU: "CUP-12OZ"},
		{Name: "Chocolate Croissant", Price: 3.25, Cost: 1.10, Stock: 25, Category: "bakery", SKU: "CROIS-CHOC"},
		{Name: "Whole Milk 1L", Price: 1.80, Cost: 1.05, Stock: 60, Category: "dairy", SKU: "MILK-1L"},
		{Name: "Gift Mug", Description: "Ceramic, shop logo", Price: 9.99, Cost: 4.50, Stock: 15, Category: "merch"},
	}
	for _, product := range seed {
		product.ID = xid.New("prod")
		product.CreatedAt = now
		product.UpdatedAt = now
		s.products[product.ID] = product
		now = now.Add(time.Millisecond)
	}
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.products))
	for _, product := range s.products {
		result = append(result, product)
	}
	slices.SortFunc(result, func(a, b domain.Product) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmpString(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := product
	return &clone, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU != "" && s.skuTakenLocked(product.SKU, product.ID) {
		return nil, store.ErrDuplicateSKU
	}
	s.products[product.ID] = product
	clone := product
	return &clone, nil
}

func (s *Store) UpdateProduct(_ context.Context, id string, patch domain.ProductUpdateRequest) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	if patch.Name != nil {
		product.Name = *patch.Name
	}
	if patch.Description != nil {
		product.Description = *patch.Description
	}
	if patch.Price != nil {
		product.Price = *patch.Price
	}
	if patch.Cost != nil {
		product.Cost = *patch.Cost
	}
	if patch.Stock != nil {
		product.Stock = *patch.Stock
	}
	if patch.Category != nil {
		product.Category = *patch.Category
	}
	if patch.SKU != nil {
		sku := *patch.SKU
		if sku != "" && s.skuTakenLocked(sku, id) {
			return nil, store.ErrDuplicateSKU
		}
		product.SKU = sku
	}
	product.UpdatedAt = time.Now().UTC()

	s.products[id] = product
	clone := product
	return &clone, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *Store) AdjustStock(_ context.Context, id string, delta int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	remaining := product.Stock + delta
	if remaining < 0 {
		return nil, store.ErrInsufficientStock
	}
	product.Stock = remaining
	product.UpdatedAt = time.Now().UTC()
	s.products[id] = product

	clone := product
	return &clone, nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		result = append(result, cloneSale(sale))
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmpString(a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := cloneSale(sale)
	return &clone, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}
	for _, existing := range s.sales {
		if existing.InvoiceNumber == sale.InvoiceNumber {
			return nil, store.ErrDuplicateInvoice
		}
	}

	// Verify stock against the summed quantity per product, not per
	// line, so duplicate lines for one product cannot oversell it.
	required := make(map[string]int, len(sale.Items))
	for _, item := range sale.Items {
		if item.Quantity < 1 {
			return nil, store.ErrValidation
		}
		if _, ok := s.products[item.ProductID]; !ok {
			return nil, store.ErrNotFound
		}
		required[item.ProductID] += item.Quantity
	}
	for id, qty := range required {
		if s.products[id].Stock < qty {
			return nil, store.ErrInsufficientStock
		}
	}

	// Re-derive each line from the catalog.
	items := make([]domain.SaleItem, 0, len(sale.Items))
	subtotal := 0.0
	for _, item := range sale.Items {
		product := s.products[item.ProductID]
		lineTotal := product.Price * float64(item.Quantity)
		items = append(items, domain.SaleItem{
			ProductID: product.ID,
			Name:      product.Name,
			Price:     product.Price,
			Quantity:  item.Quantity,
			Total:     lineTotal,
		})
		subtotal += lineTotal
	}

	now := time.Now().UTC()
	for id, qty := range required {
		product := s.products[id]
		product.Stock -= qty
		product.UpdatedAt = now
		s.products[id] = product
	}

	sale.Items = items
	sale.Subtotal = subtotal
	sale.Total = saleTotal(subtotal, sale.Tax, sale.Discount)

	s.sales[sale.ID] = cloneSale(sale)
	clone := cloneSale(sale)
	return &clone, nil
}

func (s *Store) ListSalesBetween(_ context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0)
	for _, sale := range s.sales {
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		result = append(result, cloneSale(sale))
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmpString(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) NextInvoiceSequence(_ context.Context, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.invoiceSeq[day]++
	return s.invoiceSeq[day], nil
}

func (s *Store) skuTakenLocked(sku string, exceptID string) bool {
	for id, product := range s.products {
		if id != exceptID && strings.EqualFold(product.SKU, sku) {
			return true
		}
	}
	return false
}

// saleTotal applies a percentage tax and an absolute discount, clamping
// the result at zero so an oversized discount never produces a negative
// charge.
func saleTotal(subtotal float64, taxPercent float64, discount float64) float64 {
	total := subtotal + subtotal*taxPercent/100 - discount
	if total < 0 {
		return 0
	}
	return total
}

func cloneSale(sale domain.Sale) domain.Sale {
	clone := sale
	clone.Items = slices.Clone(sale.Items)
	return clone
}

func cmpString(a string, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
