package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/quotedesk/quotedesk/internal/quotes"
	"github.com/quotedesk/quotedesk/web"
)

// Renderer turns quotations into printable PDF documents.
type Renderer struct {
	client    *Client
	templates *template.Template
}

// NewRenderer parses the embedded document templates.
func NewRenderer(client *Client) (*Renderer, error) {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006")
		},
		"money": func(v float64) string {
			return fmt.Sprintf("%.2f", v)
		},
	}
	tpl, err := template.New("pdf").Funcs(funcMap).ParseFS(web.Templates, "templates/pdf/*.html")
	if err != nil {
		return nil, err
	}
	return &Renderer{client: client, templates: tpl}, nil
}

// QuotationPDF renders the quotation document and converts it to PDF.
func (r *Renderer) QuotationPDF(ctx context.Context, q *quotes.QuotationView) ([]byte, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("document rendering not configured")
	}
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, "quotation.html", q); err != nil {
		return nil, fmt.Errorf("render quotation template: %w", err)
	}
	return r.client.RenderHTML(ctx, buf.String())
}
