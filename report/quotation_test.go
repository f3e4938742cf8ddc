package report

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotedesk/quotedesk/internal/quotes"
)

func sampleQuotation() *quotes.QuotationView {
	desc := "Hydraulic pump assembly"
	notes := "Prices include delivery to site."
	return &quotes.QuotationView{
		Quotation: quotes.Quotation{
			ID:        42,
			DocNumber: "QT-2402-0007",
			Customer: quotes.CustomerSnapshot{
				CustomerID:   7,
				CustomerName: "Acme Works",
				Location:     "North Plant",
				ContactName:  "Dana",
				ContactEmail: "dana@acme.test",
			},
			QuoteDate:    time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
			ValidityDays: 30,
			Notes:        &notes,
			Status:       quotes.QuotationStatusPending,
			Version:      "1.2",
			Currency:     "USD",
			Subtotal:     200, DiscountTotal: 20, TaxTotal: 32.4, GrandTotal: 212.4,
			Lines: []quotes.LineItem{{
				ID: 1, QuotationID: 42, Description: &desc,
				Quantity: 2, UOM: "pcs", UnitPrice: 100,
				DiscountPercent: 10, TaxRatePercent: 18,
				DiscountAmount: 20, TaxAmount: 32.4, LineTotal: 212.4, LineOrder: 1,
			}},
		},
		State:     quotes.StateValid,
		ExpiresOn: time.Date(2024, time.March, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestQuotationPDFPostsRenderedDocument(t *testing.T) {
	var receivedHTML string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/forms/chromium/convert/html", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1 << 20))
		file, _, err := r.FormFile("files")
		require.NoError(t, err)
		defer file.Close()
		raw, err := io.ReadAll(file)
		require.NoError(t, err)
		receivedHTML = string(raw)

		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7 fake"))
	}))
	defer server.Close()

	renderer, err := NewRenderer(NewClient(server.URL))
	require.NoError(t, err)

	pdf, err := renderer.QuotationPDF(context.Background(), sampleQuotation())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(pdf), "%PDF"))

	assert.Contains(t, receivedHTML, "QT-2402-0007")
	assert.Contains(t, receivedHTML, "Acme Works")
	assert.Contains(t, receivedHTML, "Hydraulic pump assembly")
	assert.Contains(t, receivedHTML, "212.40")
	assert.Contains(t, receivedHTML, "02 Mar 2024")
}

func TestQuotationPDFSurfacesRenderFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	renderer, err := NewRenderer(NewClient(server.URL))
	require.NoError(t, err)

	_, err = renderer.QuotationPDF(context.Background(), sampleQuotation())
	require.Error(t, err)
}

func TestClientPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	require.NoError(t, NewClient(server.URL).Ping(context.Background()))
}
