// Package render produces the customer-facing HTML view of an invoice.
package render

import (
	"bytes"
	"html/template"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/logibill/internal/invoice/domain"
)

const invoiceHTMLTemplate = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Invoice {{.Invoice.InvoiceNumber}}</title>
  <style>
    :root { --primary: {{.Branding.PrimaryColor}}; }
    * { box-sizing: border-box; }
    body {
      margin: 0;
      padding: 40px;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif;
      color: #1a1f36;
      background: #f7f9fc;
    }
    .invoice-card { background: #fff; max-width: 860px; margin: 0 auto; padding: 60px; border-radius: 4px; }
    .header { display: flex; justify-content: space-between; margin-bottom: 40px; }
    .header h1 { margin: 0; font-size: 24px; color: var(--primary); }
    .status { text-transform: uppercase; font-size: 12px; font-weight: 600; color: #8792a2; }
    .meta-grid { display: flex; justify-content: space-between; margin-bottom: 32px; }
    .label { font-size: 11px; text-transform: uppercase; color: #8792a2; margin-bottom: 6px; font-weight: 600; }
    .value { font-size: 14px; line-height: 1.5; }
    table { width: 100%; border-collapse: collapse; margin-bottom: 30px; }
    th { text-align: left; text-transform: uppercase; font-size: 11px; color: #8792a2; border-bottom: 1px solid #e3e8ee; padding: 10px 0; }
    td { padding: 12px 0; border-bottom: 1px solid #e3e8ee; font-size: 14px; vertical-align: top; }
    .td-right { text-align: right; }
    .item-sub { font-size: 12px; color: #697386; }
    .totals { display: flex; flex-direction: column; align-items: flex-end; }
    .total-row { display: flex; justify-content: space-between; width: 280px; padding: 6px 0; font-size: 14px; }
    .total-final { border-top: 1px solid #e3e8ee; margin-top: 10px; padding-top: 10px; font-weight: 700; }
    .footer { margin-top: 60px; font-size: 12px; color: #8792a2; border-top: 1px solid #e3e8ee; padding-top: 20px; }
  </style>
</head>
<body>
  <div class="invoice-card">
    <div class="header">
      <div>
        <h1>{{.Branding.CompanyName}}</h1>
        <div class="label" style="margin-top: 12px;">Invoice number</div>
        <div class="value">{{.Invoice.InvoiceNumber}}</div>
      </div>
      <div class="status">{{.Invoice.Status}}</div>
    </div>

    <div class="meta-grid">
      <div>
        <div class="label">Customer</div>
        <div class="value">{{.Invoice.CustomerID}}</div>
        <div class="label" style="margin-top: 16px;">Billing period</div>
        <div class="value">{{formatDay .Invoice.PeriodStart}} to {{formatDay .Invoice.PeriodEnd}} ({{.Invoice.BillingCycle}})</div>
      </div>
      <div>
        <div class="label">Date issued</div>
        <div class="value">{{formatDate .Invoice.IssuedAt}}</div>
        <div class="label" style="margin-top: 16px;">Date due</div>
        <div class="value">{{formatDate .Invoice.DueDate}}</div>
      </div>
    </div>

    <table>
      <thead>
        <tr>
          <th style="width: 46%;">Service</th>
          <th class="td-right">Qty</th>
          <th class="td-right">Rate</th>
          <th class="td-right">Amount</th>
        </tr>
      </thead>
      <tbody>
        {{range .Invoice.Lines}}
        <tr>
          <td>
            <div>{{.Description}}</div>
            <div class="item-sub">{{.Category}}{{if gt .ActivityCount 1}} &middot; {{.ActivityCount}} activities{{end}}</div>
          </td>
          <td class="td-right">{{formatQuantity .Quantity}}{{if .Unit}} {{.Unit}}{{end}}</td>
          <td class="td-right">{{formatRate .UnitRate}}</td>
          <td class="td-right">{{formatMoney .LineTotal $.Branding.Currency}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>

    <div class="totals">
      <div class="total-row"><span>Subtotal</span><span>{{formatMoney .Invoice.Subtotal .Branding.Currency}}</span></div>
      {{if not .Invoice.Tax.IsZero}}<div class="total-row"><span>Tax</span><span>{{formatMoney .Invoice.Tax .Branding.Currency}}</span></div>{{end}}
      <div class="total-row total-final"><span>Total</span><span>{{formatMoney .Invoice.Total .Branding.Currency}}</span></div>
      {{range .Invoice.Payments}}
      <div class="total-row"><span>Payment {{formatDay .PaymentDate}} ({{.Status}})</span><span>{{formatMoney .Amount $.Branding.Currency}}</span></div>
      {{end}}
      <div class="total-row total-final"><span>Balance due</span><span>{{formatMoney .Invoice.BalanceDue .Branding.Currency}}</span></div>
    </div>

    {{if .Branding.FooterNotes}}
    <div class="footer">{{.Branding.FooterNotes}}</div>
    {{end}}
  </div>
</body>
</html>
`

var hexColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Branding carries the issuer presentation settings.
type Branding struct {
	CompanyName  string
	PrimaryColor string
	Currency     string
	FooterNotes  string
}

type RenderInput struct {
	Invoice  invoicedomain.InvoiceDetail
	Branding Branding
}

type Renderer interface {
	RenderHTML(input RenderInput) (string, error)
}

type HTMLRenderer struct {
	tpl *template.Template
}

func NewRenderer() Renderer {
	funcs := template.FuncMap{
		"formatMoney":    formatMoney,
		"formatDate":     formatDate,
		"formatDay":      formatDay,
		"formatQuantity": formatQuantity,
		"formatRate":     formatRate,
	}
	return &HTMLRenderer{
		tpl: template.Must(template.New("invoice").Funcs(funcs).Parse(invoiceHTMLTemplate)),
	}
}

func (r *HTMLRenderer) RenderHTML(input RenderInput) (string, error) {
	input.Branding.PrimaryColor = sanitizeColor(input.Branding.PrimaryColor)
	if strings.TrimSpace(input.Branding.CompanyName) == "" {
		input.Branding.CompanyName = "Invoice"
	}

	var buf bytes.Buffer
	if err := r.tpl.Execute(&buf, input); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func formatMoney(amount decimal.Decimal, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return amount.StringFixed(2)
	}
	return currency + " " + amount.StringFixed(2)
}

func formatDate(value *time.Time) string {
	if value == nil || value.IsZero() {
		return "-"
	}
	return formatDay(*value)
}

func formatDay(value time.Time) string {
	return value.UTC().Format("2006-01-02")
}

func formatQuantity(value decimal.Decimal) string {
	return value.String()
}

// formatRate keeps sub-cent rates visible.
func formatRate(value decimal.Decimal) string {
	if value.Equal(value.Round(2)) {
		return value.StringFixed(2)
	}
	return value.String()
}

func sanitizeColor(value string) string {
	trimmed := strings.TrimSpace(value)
	if hexColorPattern.MatchString(trimmed) {
		return trimmed
	}
	return "#111827"
}
