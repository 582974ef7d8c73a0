package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTavilySearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/search" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req["api_key"] != "key-123" || req["query"] != "X market size" {
			t.Errorf("request body = %v", req)
		}
		if req["search_depth"] != "advanced" {
			t.Errorf("search_depth = %v", req["search_depth"])
		}

		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"title": "Market report", "url": "https://a.example/report", "content": "X grew 12% last year."},
				{"title": "No url entry", "url": "", "content": "dropped"},
				{"title": "Second", "url": "https://b.example", "content": strings.Repeat("word ", 100)},
			},
		})
	}))
	defer srv.Close()

	c, err := NewTavilyClient("key-123", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewTavilyClient() error = %v", err)
	}

	got, err := c.Search(context.Background(), "X market size")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(results) = %d, want 2 (url-less hit dropped)", len(got))
	}
	if got[0].URL != "https://a.example/report" || got[0].Title != "Market report" {
		t.Errorf("result[0] = %+v", got[0])
	}
	if got[0].Description != "X grew 12% last year." {
		t.Errorf("description = %q", got[0].Description)
	}
	if len(got[1].Description) > 283 {
		t.Errorf("long content not trimmed: %d bytes", len(got[1].Description))
	}
	if !strings.HasSuffix(got[1].Description, "...") {
		t.Errorf("trimmed description missing ellipsis: %q", got[1].Description)
	}
}

func TestTavilySearchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewTavilyClient("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewTavilyClient() error = %v", err)
	}
	if _, err := c.Search(context.Background(), "q"); err == nil {
		t.Fatalf("Search() error = nil, want status error")
	} else if !strings.Contains(err.Error(), "429") {
		t.Errorf("error = %v, want status code surfaced", err)
	}
}

func TestTavilyRequiresKey(t *testing.T) {
	if _, err := NewTavilyClient(""); err == nil {
		t.Fatalf("NewTavilyClient(\"\") error = nil, want error")
	}
}
