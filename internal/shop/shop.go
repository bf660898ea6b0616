// Package shop implements the demo shop the checkout journey runs against.
package shop

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// PaymentFailureRate is the share of orders rejected by the payment step.
const PaymentFailureRate = 0.05

// Product is a catalog entry.
type Product struct {
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	ProductID int `json:"product_id"`
	Quantity  int `json:"quantity"`
}

// Order is the body of POST /orders.
type Order struct {
	Items []OrderItem `json:"items"`
}

// OrderConfirmation is returned for an accepted order.
type OrderConfirmation struct {
	OrderID     int     `json:"order_id"`
	TotalAmount float64 `json:"total_amount"`
	Status      string  `json:"status"`
}

// Chaos scenarios served by GET /chaos.
const (
	ChaosSlow    = "slow"
	ChaosError   = "error"
	ChaosMemory  = "memory"
	ChaosSuccess = "success"
)

var chaosScenarios = []string{ChaosSlow, ChaosError, ChaosMemory, ChaosSuccess}

// DefaultCatalog returns the initial product catalog.
func DefaultCatalog() []Product {
	return []Product{
		{ID: 1, Name: "Laptop", Price: 999.99, Stock: 10},
		{ID: 2, Name: "Mouse", Price: 29.99, Stock: 50},
		{ID: 3, Name: "Keyboard", Price: 79.99, Stock: 25},
		{ID: 4, Name: "Monitor", Price: 299.99, Stock: 15},
	}
}

// Options configures a Shop.
type Options struct {
	// LatencyScale multiplies simulated processing times; 0 disables them
	LatencyScale float64

	// Seed for the shop's random source; 0 derives one from the clock
	Seed int64

	// UnlimitedStock leaves stock untouched by orders
	UnlimitedStock bool

	// PaymentFailureRate overrides the default share of failed payments
	PaymentFailureRate *float64

	Logger *zap.Logger
}

// Shop is the demo shop. It is safe for concurrent use.
type Shop struct {
	opts   Options
	logger *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	mu       sync.Mutex
	products map[int]*Product
}

// New creates a shop with the default catalog.
func New(opts Options) *Shop {
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PaymentFailureRate == nil {
		rate := PaymentFailureRate
		opts.PaymentFailureRate = &rate
	}

	s := &Shop{
		opts:     opts,
		logger:   opts.Logger,
		rng:      rand.New(rand.NewSource(opts.Seed)),
		products: make(map[int]*Product),
	}
	for _, p := range DefaultCatalog() {
		p := p
		s.products[p.ID] = &p
	}
	return s
}

// Router returns the shop's HTTP handler.
func (s *Shop) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(chiMiddleware.StripSlashes)
	router.Use(chiMiddleware.Recoverer)
	router.Use(LogMiddleware(s.logger))

	router.Get("/", s.RootHandler)
	router.Get("/health", s.HealthHandler)
	router.Get("/products", s.ListProductsHandler)
	router.Get("/products/{id}", s.GetProductHandler)
	router.Post("/orders", s.CreateOrderHandler)
	router.Get("/chaos", s.ChaosHandler)

	return router
}

// Products returns a copy of the catalog ordered by ID.
func (s *Shop) Products() []Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RootHandler serves GET / with a welcome message.
func (s *Shop) RootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to Demo Shop"})
}

// HealthHandler serves GET /health.
func (s *Shop) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ListProductsHandler serves GET /products with the whole catalog.
func (s *Shop) ListProductsHandler(w http.ResponseWriter, r *http.Request) {
	s.simulate(10*time.Millisecond, 100*time.Millisecond)
	writeJSON(w, http.StatusOK, s.Products())
}

// GetProductHandler serves GET /products/{id}. Unknown ids get 404.
func (s *Shop) GetProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "product id must be an integer")
		return
	}

	s.mu.Lock()
	p, ok := s.products[id]
	var product Product
	if ok {
		product = *p
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "Product not found")
		return
	}

	s.simulate(10*time.Millisecond, 50*time.Millisecond)
	writeJSON(w, http.StatusOK, product)
}

// CreateOrderHandler serves POST /orders. Unknown products and short
// stock get 400; a failed payment gets 500.
func (s *Shop) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	var order Order
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid JSON")
		return
	}

	total, status, msg := s.reserve(order)
	if status != http.StatusOK {
		s.logger.Debug("order rejected", zap.String("reason", msg))
		writeError(w, status, msg)
		return
	}

	s.simulate(100*time.Millisecond, 300*time.Millisecond)

	if s.randFloat() < *s.opts.PaymentFailureRate {
		writeError(w, http.StatusInternalServerError, "Payment processing failed")
		return
	}

	writeJSON(w, http.StatusOK, OrderConfirmation{
		OrderID:     1000 + s.randIntn(9000),
		TotalAmount: total,
		Status:      "confirmed",
	})
}

// reserve checks every item and decrements stock. Items before a rejected
// one keep their decrement.
func (s *Shop) reserve(order Order) (float64, int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total float64
	for _, item := range order.Items {
		p, ok := s.products[item.ProductID]
		if !ok {
			return 0, http.StatusBadRequest, fmt.Sprintf("Product %d not found", item.ProductID)
		}
		if p.Stock < item.Quantity {
			return 0, http.StatusBadRequest, fmt.Sprintf("Insufficient stock for product %d", item.ProductID)
		}
		total += p.Price * float64(item.Quantity)
		if !s.opts.UnlimitedStock {
			p.Stock -= item.Quantity
		}
	}
	return total, http.StatusOK, ""
}

// ChaosHandler serves GET /chaos with a randomly chosen failure mode.
func (s *Shop) ChaosHandler(w http.ResponseWriter, r *http.Request) {
	scenario := chaosScenarios[s.randIntn(len(chaosScenarios))]

	switch scenario {
	case ChaosSlow:
		s.simulate(2*time.Second, 5*time.Second)
		writeJSON(w, http.StatusOK, map[string]string{"scenario": ChaosSlow, "message": "This was a slow response"})
	case ChaosError:
		writeError(w, http.StatusInternalServerError, "Simulated server error")
	case ChaosMemory:
		data := make([][]byte, 1000)
		for i := range data {
			data[i] = make([]byte, 1000)
		}
		s.simulate(100*time.Millisecond, 100*time.Millisecond)
		writeJSON(w, http.StatusOK, map[string]any{"scenario": ChaosMemory, "message": "Memory spike simulated", "allocated": len(data) * len(data[0])})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"scenario": ChaosSuccess, "message": "All good!"})
	}
}

// simulate sleeps a uniform duration in [lo, hi] scaled by LatencyScale.
func (s *Shop) simulate(lo, hi time.Duration) {
	if s.opts.LatencyScale <= 0 {
		return
	}
	d := lo
	if hi > lo {
		d += time.Duration(s.randFloat() * float64(hi-lo))
	}
	time.Sleep(time.Duration(float64(d) * s.opts.LatencyScale))
}

func (s *Shop) randFloat() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

func (s *Shop) randIntn(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Intn(n)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
