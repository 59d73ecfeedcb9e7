package feed

import "testing"

// TestParseTickVariants covers string prices, numeric prices and the
// ticker-style last-price field
func TestParseTickVariants(t *testing.T) {
	cases := []struct {
		name   string
		data   string
		symbol string
		price  float64
		ok     bool
	}{
		{
			name:   "trade event with string price",
			data:   `{"e":"trade","s":"BTCUSDT","p":"43000.1"}`,
			symbol: "BTCUSDT",
			price:  43000.1,
			ok:     true,
		},
		{
			name:   "numeric price",
			data:   `{"s":"BTCUSDT","p":43000.1}`,
			symbol: "BTCUSDT",
			price:  43000.1,
			ok:     true,
		},
		{
			name:   "ticker event uses last price",
			data:   `{"e":"24hrTicker","s":"BTCUSDT","c":"42950.25"}`,
			symbol: "BTCUSDT",
			price:  42950.25,
			ok:     true,
		},
		{
			name: "missing symbol",
			data: `{"e":"trade","p":"43000.1"}`,
		},
		{
			name: "missing price",
			data: `{"e":"trade","s":"BTCUSDT"}`,
		},
		{
			name: "unparseable price",
			data: `{"s":"BTCUSDT","p":"n/a"}`,
		},
		{
			name: "not json",
			data: `ping`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			symbol, price, ok := parseTick([]byte(tc.data))
			if ok != tc.ok {
				t.Fatalf("Expected ok=%v, got %v", tc.ok, ok)
			}
			if !tc.ok {
				return
			}
			if symbol != tc.symbol {
				t.Errorf("Expected symbol %q, got %q", tc.symbol, symbol)
			}
			if price != tc.price {
				t.Errorf("Expected price %f, got %f", tc.price, price)
			}
		})
	}
}
