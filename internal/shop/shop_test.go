package shop

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestServer(t *testing.T, opts Options) (*Shop, *httptest.Server) {
	t.Helper()
	if opts.Seed == 0 {
		opts.Seed = 7
	}
	s := New(opts)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return s, srv
}

func rate(v float64) *float64 { return &v }

func postOrder(t *testing.T, url string, items ...OrderItem) *http.Response {
	t.Helper()
	body, err := json.Marshal(Order{Items: items})
	require.NoError(t, err)
	resp, err := http.Post(url+"/orders", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestShop_RootAndHealth(t *testing.T) {
	_, srv := newTestServer(t, Options{})

	for path, want := range map[string]string{
		"/":       "Welcome to Demo Shop",
		"/health": "healthy",
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Contains(t, []string{body["message"], body["status"]}, want, path)
	}
}

func TestShop_Products(t *testing.T) {
	_, srv := newTestServer(t, Options{})

	resp, err := http.Get(srv.URL + "/products")
	require.NoError(t, err)
	defer resp.Body.Close()

	var products []Product
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&products))
	assert.Equal(t, DefaultCatalog(), products)
}

func TestShop_Product(t *testing.T) {
	_, srv := newTestServer(t, Options{})

	resp, err := http.Get(srv.URL + "/products/2")
	require.NoError(t, err)
	var p Product
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	resp.Body.Close()
	assert.Equal(t, "Mouse", p.Name)
	assert.Equal(t, 29.99, p.Price)

	resp, err = http.Get(srv.URL + "/products/99")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/products/abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestShop_OrderConfirmed(t *testing.T) {
	s, srv := newTestServer(t, Options{PaymentFailureRate: rate(0)})

	resp := postOrder(t, srv.URL, OrderItem{ProductID: 2, Quantity: 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var conf OrderConfirmation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&conf))
	assert.Equal(t, "confirmed", conf.Status)
	assert.InDelta(t, 59.98, conf.TotalAmount, 1e-9)
	assert.GreaterOrEqual(t, conf.OrderID, 1000)
	assert.LessOrEqual(t, conf.OrderID, 9999)

	assert.Equal(t, 48, s.Products()[1].Stock)
}

func TestShop_OrderRejected(t *testing.T) {
	s, srv := newTestServer(t, Options{PaymentFailureRate: rate(0)})

	resp := postOrder(t, srv.URL, OrderItem{ProductID: 1, Quantity: 11})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 10, s.Products()[0].Stock)

	resp = postOrder(t, srv.URL, OrderItem{ProductID: 9, Quantity: 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	r, err := http.Post(srv.URL+"/orders", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, r.StatusCode)
}

func TestShop_StockRunsOut(t *testing.T) {
	_, srv := newTestServer(t, Options{PaymentFailureRate: rate(0)})

	for i := 0; i < 5; i++ {
		resp := postOrder(t, srv.URL, OrderItem{ProductID: 1, Quantity: 2})
		require.Equal(t, http.StatusOK, resp.StatusCode, "order %d", i)
	}
	resp := postOrder(t, srv.URL, OrderItem{ProductID: 1, Quantity: 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestShop_UnlimitedStock(t *testing.T) {
	s, srv := newTestServer(t, Options{PaymentFailureRate: rate(0), UnlimitedStock: true})

	for i := 0; i < 10; i++ {
		resp := postOrder(t, srv.URL, OrderItem{ProductID: 1, Quantity: 3})
		require.Equal(t, http.StatusOK, resp.StatusCode, "order %d", i)
	}
	assert.Equal(t, 10, s.Products()[0].Stock)
}

func TestShop_PaymentFailure(t *testing.T) {
	_, srv := newTestServer(t, Options{PaymentFailureRate: rate(1)})

	resp := postOrder(t, srv.URL, OrderItem{ProductID: 2, Quantity: 1})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestShop_Chaos(t *testing.T) {
	_, srv := newTestServer(t, Options{})

	seen := map[string]int{}
	for i := 0; i < 200; i++ {
		resp, err := http.Get(srv.URL + "/chaos")
		require.NoError(t, err)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()

		if resp.StatusCode == http.StatusInternalServerError {
			seen[ChaosError]++
			continue
		}
		require.Equal(t, http.StatusOK, resp.StatusCode)
		seen[body["scenario"].(string)]++
	}

	for _, scenario := range chaosScenarios {
		assert.Positive(t, seen[scenario], "scenario %s never served", scenario)
	}
}

func TestLogMiddleware(t *testing.T) {
	core, obs := observer.New(zap.DebugLevel)

	h := LogMiddleware(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders", nil))

	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, 1, obs.Len())

	fields := obs.All()[0].ContextMap()
	assert.Equal(t, "POST", fields["method"])
	assert.Equal(t, int64(http.StatusCreated), fields["status"])
	assert.Equal(t, int64(2), fields["size"])
}
