// Package journey contains the user journeys virtual users execute.
package journey

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/load"
	"github.com/wesleyorama2/stampede/internal/metrics"
)

// Custom metrics recorded by the checkout journey.
const (
	MetricErrors          = "errors"
	MetricOrdersCreated   = "orders_created"
	MetricOrdersConfirmed = "orders_confirmed"
	MetricChaosHits       = "chaos_hits"
)

// Check names, as they appear in logs.
const (
	CheckProductsList  = "products list status is 200"
	CheckProductDetail = "product detail status is 200"
	CheckOrderCreation = "order creation status is 200"
)

// Config tunes the checkout journey.
type Config struct {
	// ProductCount is the size of the catalog ids are drawn from (1..ProductCount).
	ProductCount int `json:"productCount" yaml:"productCount"`
	// MaxQuantity bounds the ordered quantity (1..MaxQuantity).
	MaxQuantity int `json:"maxQuantity" yaml:"maxQuantity"`

	OrderProbability float64 `json:"orderProbability" yaml:"orderProbability"`
	ChaosProbability float64 `json:"chaosProbability" yaml:"chaosProbability"`

	BrowseThinkTime time.Duration `json:"browseThinkTime" yaml:"browseThinkTime"`
	DetailThinkTime time.Duration `json:"detailThinkTime" yaml:"detailThinkTime"`
	EndThinkTime    time.Duration `json:"endThinkTime" yaml:"endThinkTime"`
}

// DefaultConfig returns the checkout journey defaults.
func DefaultConfig() Config {
	return Config{
		ProductCount:     4,
		MaxQuantity:      3,
		OrderProbability: 0.3,
		ChaosProbability: 0.05,
		BrowseThinkTime:  time.Second,
		DetailThinkTime:  time.Second,
		EndThinkTime:     2 * time.Second,
	}
}

// Validate checks the journey configuration.
func (c Config) Validate() error {
	var errs []error
	if c.ProductCount < 1 {
		errs = append(errs, fmt.Errorf("productCount must be at least 1, got %d", c.ProductCount))
	}
	if c.MaxQuantity < 1 {
		errs = append(errs, fmt.Errorf("maxQuantity must be at least 1, got %d", c.MaxQuantity))
	}
	if c.OrderProbability < 0 || c.OrderProbability > 1 {
		errs = append(errs, fmt.Errorf("orderProbability must be within [0, 1], got %v", c.OrderProbability))
	}
	if c.ChaosProbability < 0 || c.ChaosProbability > 1 {
		errs = append(errs, fmt.Errorf("chaosProbability must be within [0, 1], got %v", c.ChaosProbability))
	}
	if c.BrowseThinkTime < 0 || c.DetailThinkTime < 0 || c.EndThinkTime < 0 {
		errs = append(errs, errors.New("think times must not be negative"))
	}
	return errors.Join(errs...)
}

// OrderItem is one line of an order request.
type OrderItem struct {
	ProductID int `json:"product_id"`
	Quantity  int `json:"quantity"`
}

// OrderRequest is the body posted to /orders.
type OrderRequest struct {
	Items []OrderItem `json:"items"`
}

// Checkout browses the catalog, views a product, sometimes orders it and
// occasionally hits the chaos endpoint.
type Checkout struct {
	cfg Config

	errors          *metrics.Metric
	ordersCreated   *metrics.Metric
	ordersConfirmed *metrics.Metric
	chaosHits       *metrics.Metric
}

// NewCheckout declares the journey's metrics on r.
func NewCheckout(r *metrics.Registry, cfg Config) (*Checkout, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("checkout journey: %w", err)
	}

	c := &Checkout{cfg: cfg}
	decls := []struct {
		name string
		kind metrics.Kind
		dst  **metrics.Metric
	}{
		{MetricErrors, metrics.KindRate, &c.errors},
		{MetricOrdersCreated, metrics.KindCounter, &c.ordersCreated},
		{MetricOrdersConfirmed, metrics.KindCounter, &c.ordersConfirmed},
		{MetricChaosHits, metrics.KindCounter, &c.chaosHits},
	}
	for _, d := range decls {
		m, err := r.Declare(d.name, d.kind)
		if err != nil {
			return nil, err
		}
		*d.dst = m
	}

	return c, nil
}

// Iterate runs one pass of the journey.
//
// Random draws happen in a fixed order (product, order gate, quantity, chaos
// gate) so a seeded VU replays the same journey.
func (c *Checkout) Iterate(ctx context.Context, it *load.Iteration) {
	resp := it.Get(ctx, "/products")
	c.check(it, CheckProductsList, resp.OK(http.StatusOK))

	if it.Sleep(ctx, c.cfg.BrowseThinkTime) != nil {
		return
	}

	productID := it.Rand.Intn(c.cfg.ProductCount) + 1
	resp = it.Get(ctx, "/products/"+strconv.Itoa(productID))
	c.check(it, CheckProductDetail, resp.OK(http.StatusOK))

	if it.Sleep(ctx, c.cfg.DetailThinkTime) != nil {
		return
	}

	if it.Rand.Float64() < c.cfg.OrderProbability {
		order := OrderRequest{Items: []OrderItem{{
			ProductID: productID,
			Quantity:  it.Rand.Intn(c.cfg.MaxQuantity) + 1,
		}}}

		resp = it.Post(ctx, "/orders", order)
		if c.check(it, CheckOrderCreation, resp.OK(http.StatusOK)).Passed {
			c.ordersCreated.Add(1)
			if gjson.GetBytes(resp.Body, "status").String() == "confirmed" {
				c.ordersConfirmed.Add(1)
			}
		}
	}

	// Chaos responses are deliberately kept out of the errors rate
	if it.Rand.Float64() < c.cfg.ChaosProbability {
		resp = it.Get(ctx, "/chaos")
		c.chaosHits.Add(1)
		it.Logger().Debug("chaos endpoint hit",
			zap.Int("status", resp.Status),
			zap.String("scenario", gjson.GetBytes(resp.Body, "scenario").String()),
			zap.Duration("latency", resp.Latency))
	}

	it.Sleep(ctx, c.cfg.EndThinkTime)
}

func (c *Checkout) check(it *load.Iteration, name string, ok bool) load.CheckResult {
	res := it.Check(name, ok)
	c.errors.AddBool(!res.Passed)
	if !res.Passed {
		it.Logger().Debug("check failed", zap.String("check", name))
	}
	return res
}
