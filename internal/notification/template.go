package notification

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"strings"

	"github.com/shaharia-lab/dealnotify/internal/storage"
)

// DefaultSiteName is used when no site name is configured.
const DefaultSiteName = "Deals"

// emailTmpl is the HTML body of every deal email. Fields are escaped by
// html/template.
var emailTmpl = template.Must(template.New("deal").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width,initial-scale=1.0">
<title>{{.Title}}</title>
</head>
<body style="margin:0;padding:24px 12px;background:#eef2f7;font-family:Helvetica,Arial,sans-serif;color:#1f2937;">
<table role="presentation" width="100%" cellpadding="0" cellspacing="0">
<tr><td align="center">
<table role="presentation" width="560" cellpadding="0" cellspacing="0"
       style="max-width:560px;width:100%;background:#ffffff;border-radius:10px;border:1px solid #d9e0ea;">
<tr>
<td style="padding:18px 28px;border-bottom:1px solid #e5e9f0;font-size:13px;font-weight:bold;
           text-transform:uppercase;letter-spacing:1px;color:#475569;">{{.SiteName}}</td>
</tr>
<tr>
<td style="padding:28px;">
{{- if .Discount}}
<div style="display:inline-block;margin-bottom:14px;padding:6px 12px;border-radius:4px;
            background:#dc2626;color:#ffffff;font-size:18px;font-weight:bold;">-{{.Discount}}%</div>
{{- end}}
<h1 style="margin:0 0 16px;font-size:22px;line-height:1.3;">{{.Title}}</h1>
{{- if .Greeting}}
<p style="margin:0 0 12px;font-size:14px;">Hi {{.Greeting}}, a new deal matches your alerts.</p>
{{- end}}
{{- if .Excerpt}}
<p style="margin:0 0 20px;font-size:14px;line-height:1.6;color:#374151;">{{.Excerpt}}</p>
{{- end}}
{{- if .URL}}
<a href="{{.URL}}" style="display:inline-block;padding:12px 22px;border-radius:6px;background:#0f766e;
   color:#ffffff;text-decoration:none;font-size:15px;font-weight:bold;">Grab the deal</a>
{{- end}}
</td>
</tr>
<tr>
<td style="padding:16px 28px;background:#f8fafc;border-radius:0 0 10px 10px;font-size:12px;color:#64748b;">
You receive this because your {{.SiteName}} deal alerts are switched on.
Adjust discount, category and store filters in your account settings.
</td>
</tr>
</table>
</td></tr>
</table>
</body>
</html>
`))

type emailView struct {
	SiteName string
	Greeting string
	Title    string
	Excerpt  string
	URL      string
	Discount int
}

// buildSubject returns the subject line for a deal.
func buildSubject(siteName string, deal *storage.Deal) string {
	if deal.DiscountPercent > 0 {
		return fmt.Sprintf("[%s] %d%% off: %s", siteName, deal.DiscountPercent, deal.Title)
	}
	return fmt.Sprintf("[%s] New deal: %s", siteName, deal.Title)
}

// buildPlainText renders the text/plain fallback of a deal email.
func buildPlainText(siteName string, sub *storage.Subscriber, deal *storage.Deal) string {
	var b strings.Builder
	if sub.DisplayName != "" {
		fmt.Fprintf(&b, "Hi %s,\n\n", sub.DisplayName)
	}
	b.WriteString(deal.Title)
	b.WriteString("\n\n")
	if deal.Excerpt != "" {
		b.WriteString(deal.Excerpt)
		b.WriteString("\n\n")
	}
	if deal.URL != "" {
		b.WriteString(deal.URL)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "-- \n%s", siteName)
	return b.String()
}

// buildEmailHTML renders the HTML email template for a deal.
func buildEmailHTML(siteName string, sub *storage.Subscriber, deal *storage.Deal) (string, error) {
	var buf bytes.Buffer
	err := emailTmpl.Execute(&buf, emailView{
		SiteName: siteName,
		Greeting: sub.DisplayName,
		Title:    deal.Title,
		Excerpt:  deal.Excerpt,
		URL:      deal.URL,
		Discount: deal.DiscountPercent,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// buildTelegramText renders a deal as Telegram HTML.
func buildTelegramText(deal *storage.Deal) string {
	var b strings.Builder
	if deal.DiscountPercent > 0 {
		fmt.Fprintf(&b, "<b>%d%% off</b> ", deal.DiscountPercent)
	}
	fmt.Fprintf(&b, "<b>%s</b>", html.EscapeString(deal.Title))
	if deal.Excerpt != "" {
		b.WriteString("\n\n")
		b.WriteString(html.EscapeString(truncate(deal.Excerpt, 600)))
	}
	if deal.URL != "" {
		fmt.Fprintf(&b, "\n\n<a href=\"%s\">View deal</a>", html.EscapeString(deal.URL))
	}
	return b.String()
}

// buildPushHeading returns the short title used for push notifications.
func buildPushHeading(siteName string, deal *storage.Deal) string {
	if deal.DiscountPercent > 0 {
		return fmt.Sprintf("%s: %d%% off", siteName, deal.DiscountPercent)
	}
	return siteName + ": new deal"
}

// truncate shortens s to at most n runes, adding an ellipsis when cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
