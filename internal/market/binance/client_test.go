package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/liamashdown/whalewatch/internal/fault"
)

func TestPrice(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantPrice float64
		wantKind  fault.Kind
	}{
		{"ok", http.StatusOK, `{"symbol":"ETHUSDT","price":"2534.12000000"}`, 2534.12, 0},
		{"bad symbol", http.StatusBadRequest, `{"code":-1121,"msg":"Invalid symbol."}`, 0, fault.KindRejected},
		{"throttled", http.StatusTooManyRequests, ``, 0, fault.KindRateLimited},
		{"banned", http.StatusTeapot, ``, 0, fault.KindRateLimited},
		{"server error", http.StatusServiceUnavailable, ``, 0, fault.KindTransient},
		{"garbage price", http.StatusOK, `{"symbol":"ETHUSDT","price":"n/a"}`, 0, fault.KindMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/v3/ticker/price" || r.URL.Query().Get("symbol") != "ETHUSDT" {
					t.Errorf("unexpected request %s", r.URL.String())
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(server.URL+"/api/v3", "ETHUSDT", 100)
			price, err := client.Price(context.Background())

			if tt.wantKind != 0 {
				if got := fault.KindOf(err); got != tt.wantKind {
					t.Fatalf("kind = %s, want %s (err %v)", got, tt.wantKind, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Price() error = %v", err)
			}
			if price != tt.wantPrice {
				t.Errorf("Price() = %f, want %f", price, tt.wantPrice)
			}
		})
	}
}
