package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"shoptally/backend/internal/domain"
	"shoptally/backend/internal/report"
	"shoptally/backend/internal/store"
	"shoptally/backend/internal/xid"
)

// Service validates and normalizes requests, then orchestrates the
// repository and the report engine. All timestamps it produces are UTC.
type Service struct {
	repo     store.Repository
	reports  *report.Engine
	validate *validator.Validate
}

func New(repo store.Repository, reports *report.Engine) *Service {
	return &Service{
		repo:     repo,
		reports:  reports,
		validate: validator.New(),
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: product id is required", store.ErrValidation)
	}
	return s.repo.GetProduct(ctx, id)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (*domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.SKU = normalizeSKU(req.SKU)
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	now := time.Now().UTC()
	product := domain.Product{
		ID:          xid.New("prod"),
		Name:        req.Name,
		Description: strings.TrimSpace(req.Description),
		Price:       req.Price,
		Cost:        req.Cost,
		Stock:       req.Stock,
		Category:    strings.TrimSpace(req.Category),
		SKU:         req.SKU,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return s.repo.CreateProduct(ctx, product)
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (*domain.Product, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: product id is required", store.ErrValidation)
	}
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		req.Name = &trimmed
	}
	if req.SKU != nil {
		sku := normalizeSKU(*req.SKU)
		req.SKU = &sku
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	return s.repo.UpdateProduct(ctx, id, req)
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: product id is required", store.ErrValidation)
	}
	return s.repo.DeleteProduct(ctx, id)
}

// AdjustStock translates an add/subtract operation into a guarded delta.
// The repository enforces the non-negative stock invariant.
func (s *Service) AdjustStock(ctx context.Context, id string, req domain.StockAdjustRequest) (*domain.Product, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: product id is required", store.ErrValidation)
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	var delta int
	switch strings.ToLower(strings.TrimSpace(req.Operation)) {
	case domain.StockOperationAdd:
		delta = req.Quantity
	case domain.StockOperationSubtract:
		delta = -req.Quantity
	default:
		return nil, fmt.Errorf("%w: %q", store.ErrInvalidOperation, req.Operation)
	}
	return s.repo.AdjustStock(ctx, id, delta)
}

func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, limit)
}

func (s *Service) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: sale id is required", store.ErrValidation)
	}
	return s.repo.GetSale(ctx, id)
}

// CreateSale runs the whole sale workflow: request validation, cart
// normalization, invoice numbering from the per-day counter, then the
// atomic check-and-decrement in the repository. Prices and names are
// re-derived from the catalog inside the repository, never trusted from
// the request.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (*domain.Sale, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	method, err := normalizePaymentMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}
	status, err := normalizePaymentStatus(req.PaymentStatus)
	if err != nil {
		return nil, err
	}

	items := aggregateItems(req.Items)
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: sale requires at least one item", store.ErrValidation)
	}

	now := time.Now().UTC()
	invoiceNumber, err := s.nextInvoiceNumber(ctx, now)
	if err != nil {
		return nil, err
	}

	sale := domain.Sale{
		ID:              xid.New("sale"),
		InvoiceNumber:   invoiceNumber,
		CustomerName:    strings.TrimSpace(req.CustomerName),
		CustomerContact: strings.TrimSpace(req.CustomerContact),
		Items:           items,
		Tax:             req.Tax,
		Discount:        req.Discount,
		PaymentMethod:   method,
		PaymentStatus:   status,
		Notes:           strings.TrimSpace(req.Notes),
		CreatedAt:       now,
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return nil, err
	}

	log.Printf("[audit] sale created invoice=%s items=%d total=%.2f", created.InvoiceNumber, len(created.Items), created.Total)
	return created, nil
}

// nextInvoiceNumber formats INV-YYYYMMDD-NNN from the day's monotonic
// counter. The counter restarts at 001 each day; the width grows past
// three digits rather than wrapping.
func (s *Service) nextInvoiceNumber(ctx context.Context, now time.Time) (string, error) {
	day := now.UTC().Format("20060102")
	seq, err := s.repo.NextInvoiceSequence(ctx, day)
	if err != nil {
		return "", fmt.Errorf("invoice sequence: %w", err)
	}
	return fmt.Sprintf("INV-%s-%03d", day, seq), nil
}

func (s *Service) RevenueStats(ctx context.Context, startDate string, endDate string) (domain.RevenueStats, error) {
	from, to, err := resolveRange(startDate, endDate)
	if err != nil {
		return domain.RevenueStats{}, err
	}
	return s.reports.RevenueStats(ctx, from, to)
}

func (s *Service) TopProducts(ctx context.Context, startDate string, endDate string, limit int) ([]domain.ProductRevenue, error) {
	from, to, err := resolveRange(startDate, endDate)
	if err != nil {
		return nil, err
	}
	return s.reports.TopProducts(ctx, from, to, limit)
}

func (s *Service) RevenueByDay(ctx context.Context, startDate string, endDate string) ([]domain.DailyRevenue, error) {
	from, to, err := resolveRange(startDate, endDate)
	if err != nil {
		return nil, err
	}
	return s.reports.RevenueByDay(ctx, from, to)
}

// resolveRange turns calendar-date strings into a half-open UTC instant
// range covering the whole start and end days. A missing start means
// "from the beginning", a missing end means "up to now".
func resolveRange(startDate string, endDate string) (time.Time, time.Time, error) {
	from := time.Unix(0, 0).UTC()
	to := time.Now().UTC().Add(time.Second)

	if strings.TrimSpace(startDate) != "" {
		parsed, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(startDate), time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: invalid start_date %q", store.ErrValidation, startDate)
		}
		from = parsed
	}
	if strings.TrimSpace(endDate) != "" {
		parsed, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(endDate), time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: invalid end_date %q", store.ErrValidation, endDate)
		}
		to = parsed.AddDate(0, 0, 1)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end_date precedes start_date", store.ErrValidation)
	}
	return from, to, nil
}

// aggregateItems merges duplicate product lines so the repository sees
// one line per product, in first-seen order.
func aggregateItems(items []domain.SaleItemRequest) []domain.SaleItem {
	quantities := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" || item.Quantity < 1 {
			continue
		}
		if _, seen := quantities[id]; !seen {
			order = append(order, id)
		}
		quantities[id] += item.Quantity
	}

	result := make([]domain.SaleItem, 0, len(order))
	for _, id := range order {
		result = append(result, domain.SaleItem{ProductID: id, Quantity: quantities[id]})
	}
	return result
}

func normalizePaymentMethod(method string) (string, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	switch method {
	case "":
		return domain.PaymentMethodCash, nil
	case domain.PaymentMethodCash, domain.PaymentMethodCard, domain.PaymentMethodUPI, domain.PaymentMethodOther:
		return method, nil
	default:
		return "", fmt.Errorf("%w: unknown payment method %q", store.ErrValidation, method)
	}
}

func normalizePaymentStatus(status string) (string, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "":
		return domain.PaymentStatusPaid, nil
	case domain.PaymentStatusPaid, domain.PaymentStatusPending, domain.PaymentStatusPartial:
		return status, nil
	default:
		return "", fmt.Errorf("%w: unknown payment status %q", store.ErrValidation, status)
	}
}

func normalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}
