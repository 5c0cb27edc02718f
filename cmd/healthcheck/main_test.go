package main

import "testing"

func TestHealthURL(t *testing.T) {
	tests := map[string]string{
		"":               "http://localhost:8080/healthz",
		":9090":          "http://localhost:9090/healthz",
		"127.0.0.1:8081": "http://127.0.0.1:8081/healthz",
	}
	for addr, want := range tests {
		if got := healthURL(addr); got != want {
			t.Errorf("healthURL(%q) = %q, want %q", addr, got, want)
		}
	}
}
