package views

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/a-h/templ"
)

const pageStyle = `body{font-family:system-ui,sans-serif;max-width:760px;margin:2rem auto;padding:0 1rem;color:#222}` +
	`table{border-collapse:collapse;width:100%}td,th{border-bottom:1px solid #ddd;padding:.4rem;text-align:left}` +
	`pre{background:#f6f6f6;padding:1rem;overflow:auto}.meta{color:#666;font-size:.9rem}`

// Layout wraps body in a minimal HTML page.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString("<!doctype html><html lang=\"en\"><head><meta charset=\"utf-8\">")
		b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">")
		b.WriteString("<title>" + templ.EscapeString(title) + "</title>")
		b.WriteString("<style>" + pageStyle + "</style></head><body>")
		if _, err := io.WriteString(w, b.String()); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, "</body></html>")
		return err
	})
}

// RecordList is the preview index. A non-empty csrfToken adds the form that
// starts a run.
func RecordList(records []RecordSummary, csrfToken string) templ.Component {
	return Layout("Records", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString("<h1>Records</h1>")
		if csrfToken != "" {
			b.WriteString(`<form method="post" action="/api/process">`)
			b.WriteString(`<input type="hidden" name="_csrf" value="` + templ.EscapeString(csrfToken) + `">`)
			b.WriteString(`<button type="submit">Process records</button></form>`)
		}
		if len(records) == 0 {
			b.WriteString("<p class=\"meta\">No records imported yet.</p>")
		} else {
			b.WriteString("<table><thead><tr><th>ID</th><th>Type</th><th>Owner</th><th>Images</th><th>Updated</th></tr></thead><tbody>")
			for _, r := range records {
				b.WriteString("<tr><td><a href=\"" + templ.EscapeString(RecordURL(r.ID)) + "\">" + templ.EscapeString(r.ID) + "</a></td>")
				b.WriteString("<td>" + templ.EscapeString(r.Type) + "</td>")
				b.WriteString("<td>" + templ.EscapeString(r.Owner) + "</td>")
				b.WriteString("<td>" + strconv.Itoa(r.Images) + "</td>")
				b.WriteString("<td>" + templ.EscapeString(r.UpdatedAt) + "</td></tr>")
			}
			b.WriteString("</tbody></table>")
		}
		_, err := io.WriteString(w, b.String())
		return err
	}))
}

// RecordPage shows one record with its rewritten content.
func RecordPage(rec RecordDetail) templ.Component {
	return Layout(rec.ID, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString("<p><a href=\"/\">&larr; All records</a></p>")
		b.WriteString("<h1>" + templ.EscapeString(rec.ID) + "</h1>")
		b.WriteString("<p class=\"meta\">" + templ.EscapeString(rec.Type) + " from " + templ.EscapeString(rec.Owner))
		if rec.UpdatedAt != "" {
			b.WriteString(", updated " + templ.EscapeString(rec.UpdatedAt))
		}
		b.WriteString("</p><article>")
		b.WriteString(rec.Content)
		b.WriteString("</article>")
		if rec.Auxiliary != "" {
			b.WriteString("<h2>Auxiliary fields</h2><pre>" + templ.EscapeString(rec.Auxiliary) + "</pre>")
		}
		_, err := io.WriteString(w, b.String())
		return err
	}))
}

// NotFound is the 404 page.
func NotFound() templ.Component {
	return message("Not found", "The record you asked for does not exist.")
}

// ServerError is the 500 page.
func ServerError() templ.Component {
	return message("Server error", "Something went wrong while rendering this page.")
}

func message(title, text string) templ.Component {
	return Layout(title, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<h1>"+templ.EscapeString(title)+"</h1><p>"+templ.EscapeString(text)+"</p><p><a href=\"/\">Back to records</a></p>")
		return err
	}))
}
