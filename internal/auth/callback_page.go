package auth

import (
	"fmt"
	"html"
	"net/http"
)

// renderCallbackPage writes a small self-contained confirmation page. The
// callback is reached by a real browser redirect from the authorization
// server, so it must succeed with no further collaboration from the
// assistant or session owner.
func renderCallbackPage(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, callbackPageHTML, html.EscapeString(title), html.EscapeString(title), html.EscapeString(message))
}

const callbackPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>%s</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
           display: flex; align-items: center; justify-content: center;
           min-height: 100vh; margin: 0; background: #f5f6f8; color: #1f2933; }
    .card { background: #fff; border-radius: 12px; padding: 2.5rem 3rem;
            box-shadow: 0 4px 16px rgba(0,0,0,0.08); max-width: 28rem; text-align: center; }
    h1 { font-size: 1.4rem; margin: 0 0 0.75rem; }
    p { margin: 0; line-height: 1.5; color: #52606d; }
  </style>
</head>
<body>
  <div class="card">
    <h1>%s</h1>
    <p>%s</p>
  </div>
</body>
</html>
`
