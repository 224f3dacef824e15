package opencart

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/skeolabs/stocksync/internal/common"
)

// opencartServer emulates the admin login + store_sync module flow: the
// login handler serves the redirect target's content directly.
func opencartServer(t *testing.T, listBody string, updates *[]string) *httptest.Server {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "common/login") {
			t.Errorf("expected everything to go through login, got %s", r.URL.Path)
			return
		}
		r.ParseForm()
		if r.PostForm.Get("username") != "admin" || r.PostForm.Get("password") != "hunter2" {
			t.Error("credentials not posted")
		}

		redirect := r.PostForm.Get("redirect")
		switch {
		case strings.Contains(redirect, listProductsEndpoint):
			fmt.Fprint(w, listBody)
		case strings.Contains(redirect, updateStocksEndpoint):
			if updates != nil {
				*updates = append(*updates, redirect)
			}
			fmt.Fprint(w, "OK")
		default:
			t.Errorf("unexpected redirect target: %s", redirect)
		}
	}))
	return server
}

func TestRefreshParsesProductList(t *testing.T) {
	server := opencartServer(t,
		`[{"model":"OC-A","quantity":"15"},{"model":"OC-B","quantity":3}]`, nil)
	defer server.Close()

	client := NewClient(server.URL+"/", "admin", "hunter2")
	if err := client.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	products := client.ListProducts()
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}
	// Quantities arrive as strings or numbers depending on the module build.
	if products[0].Model != "OC-A" || products[0].Stocks != 15 {
		t.Errorf("OC-A parsed wrong: %+v", products[0])
	}
	if products[1].Model != "OC-B" || products[1].Stocks != 3 {
		t.Errorf("OC-B parsed wrong: %+v", products[1])
	}
}

func TestRefreshRejectsEmptyList(t *testing.T) {
	server := opencartServer(t, `[]`, nil)
	defer server.Close()

	client := NewClient(server.URL+"/", "admin", "hunter2")
	err := client.Refresh(context.Background())
	if !common.IsCommunicationError(err) {
		t.Errorf("expected CommunicationError for empty list, got %v", err)
	}
}

func TestUpdateProductStocks(t *testing.T) {
	var updates []string
	server := opencartServer(t, `[{"model":"OC-A","quantity":10}]`, &updates)
	defer server.Close()

	client := NewClient(server.URL+"/", "admin", "hunter2")
	if err := client.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	result, err := client.UpdateProductStocks(context.Background(), "OC-A", 4)
	if err != nil {
		t.Fatalf("UpdateProductStocks failed: %v", err)
	}
	if !result.OK() {
		t.Errorf("write rejected: %+v", result)
	}

	if len(updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(updates))
	}
	if !strings.Contains(updates[0], "model=OC-A") || !strings.Contains(updates[0], "quantity=4") {
		t.Errorf("update redirect missing parameters: %s", updates[0])
	}
}

func TestUpdateUnknownModel(t *testing.T) {
	server := opencartServer(t, `[{"model":"OC-A","quantity":10}]`, nil)
	defer server.Close()

	client := NewClient(server.URL+"/", "admin", "hunter2")
	if err := client.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if _, err := client.UpdateProductStocks(context.Background(), "GHOST", 4); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetProductDirectRefetches(t *testing.T) {
	listBody := `[{"model":"OC-A","quantity":10}]`
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		fmt.Fprint(w, listBody)
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "admin", "hunter2")
	if err := client.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// The remote changes after the snapshot; the direct lookup must see it.
	listBody = `[{"model":"OC-A","quantity":6}]`

	product, err := client.GetProductDirect(context.Background(), "OC-A")
	if err != nil {
		t.Fatalf("GetProductDirect failed: %v", err)
	}
	if product.Stocks != 6 {
		t.Errorf("expected fresh stocks 6, got %d", product.Stocks)
	}
	if snapshot, _ := client.GetProduct("OC-A"); snapshot.Stocks != 10 {
		t.Errorf("snapshot must stay at 10, got %d", snapshot.Stocks)
	}
}
