package mailer

import (
	"bytes"
	"html/template"
	"net/url"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"

	"github.com/keithlinneman/linnemanlabs-newsletter/internal/xerrors"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.Typographer,
	),
	goldmark.WithRendererOptions(
		htmlrenderer.WithHardWraps(),
		htmlrenderer.WithXHTML(),
	),
)

// RenderMarkdown converts an admin-authored newsletter body to HTML. Raw
// HTML in the source is dropped.
func RenderMarkdown(src string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return "", xerrors.Wrap(err, "render markdown")
	}
	return template.HTML(buf.String()), nil
}

var layout = template.Must(template.New("newsletter").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Subject}}</title>
<style>
body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
.container { max-width: 600px; margin: 0 auto; padding: 20px; }
.header { background-color: #f8f9fa; padding: 20px; text-align: center; }
.content { padding: 20px; }
.footer { background-color: #f8f9fa; padding: 20px; text-align: center; font-size: 12px; color: #666; }
.unsubscribe { color: #666; }
</style>
</head>
<body>
<div class="container">
<div class="header"><h1>{{.Subject}}</h1></div>
<div class="content">{{.Body}}</div>
<div class="footer">
<p>You received this email because you subscribed to our newsletter.</p>
{{if .UnsubscribeURL}}<p><a href="{{.UnsubscribeURL}}" class="unsubscribe">Unsubscribe</a></p>{{end}}
<p>&copy; {{.Year}} {{.From}}</p>
</div>
</div>
</body>
</html>
`))

type page struct {
	Subject        string
	Body           template.HTML
	UnsubscribeURL string
	From           string
	Year           int
}

// UnsubscribeURL is the per-recipient link placed in newsletter footers.
func UnsubscribeURL(publicURL, email string) string {
	if publicURL == "" {
		return ""
	}
	return strings.TrimRight(publicURL, "/") + "/unsubscribe?email=" + url.QueryEscape(email)
}

// renderPage wraps body in the newsletter layout
func renderPage(subject string, body template.HTML, unsubscribeURL, from string, now time.Time) (string, error) {
	var buf bytes.Buffer
	err := layout.Execute(&buf, page{
		Subject:        subject,
		Body:           body,
		UnsubscribeURL: unsubscribeURL,
		From:           from,
		Year:           now.Year(),
	})
	if err != nil {
		return "", xerrors.Wrap(err, "render newsletter layout")
	}
	return buf.String(), nil
}
