package httpc

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, DefaultTimeout},
		{-time.Second, DefaultTimeout},
		{5 * time.Second, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := NewClient(tt.in).Timeout; got != tt.want {
			t.Errorf("NewClient(%v).Timeout = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	resp, err := NewClient(time.Second).Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	body, err := ReadBody(resp, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(body) != 10 {
		t.Errorf("len(body) = %d, want 10", len(body))
	}
}
