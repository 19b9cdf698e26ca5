package proxy

import (
	"html/template"
	"net/http"
	"time"

	"faststream-proxy/work/logger"
	"faststream-proxy/work/session"
)

var homeTmpl = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>Isolated Fast Video Streaming</title>
    <link href="https://cdn.jsdelivr.net/npm/bootstrap@5.3.0/dist/css/bootstrap.min.css" rel="stylesheet">
    <meta name="viewport" content="width=device-width, initial-scale=1">
</head>
<body>
    <div class="container mt-5">
        <div class="row justify-content-center">
            <div class="col-lg-8">
                <div class="text-center mb-4">
                    <h1>Isolated Fast Video Streaming</h1>
                    <p class="text-muted">Each video gets its own isolated upstream session - no cross-contamination between switches.</p>
                </div>

                <div class="card mb-4">
                    <div class="card-header"><h5 class="card-title mb-0">Set Video URL</h5></div>
                    <div class="card-body">
                        <form method="POST" action="/set-video">
                            <div class="input-group">
                                <input type="url" name="video_url" class="form-control" placeholder="https://example.com/video.mp4" required>
                                <button class="btn btn-primary" type="submit">Isolate &amp; Stream</button>
                            </div>
                        </form>
                    </div>
                </div>

                {{if .CurrentURL}}
                <div class="card mb-4">
                    <div class="card-header"><h6 class="card-title mb-0">Current Video</h6></div>
                    <div class="card-body">
                        <p class="small text-break bg-light p-2 rounded">{{.CurrentURL}}</p>
                        <p class="text-muted mb-0">Session: <code>{{.SessionID}}</code> | Cache buster: #{{.CacheBuster}}</p>
                    </div>
                </div>

                <div class="card mb-4">
                    <div class="card-header"><h6 class="card-title mb-0">Streaming URLs</h6></div>
                    <div class="card-body">
                        <div class="mb-3">
                            <label class="form-label"><strong>Standard (512KB chunks):</strong></label>
                            <input type="text" value="{{.BaseURL}}/video" readonly class="form-control font-monospace" onclick="this.select()">
                        </div>
                        <div class="mb-3">
                            <label class="form-label"><strong>Fast (1MB chunks):</strong></label>
                            <input type="text" value="{{.BaseURL}}/fast" readonly class="form-control font-monospace" onclick="this.select()">
                        </div>
                        <div class="mb-0">
                            <label class="form-label"><strong>MX Player optimized:</strong></label>
                            <input type="text" value="{{.BaseURL}}/mx?url={{.CurrentURL}}" readonly class="form-control font-monospace" onclick="this.select()">
                        </div>
                    </div>
                </div>
                {{else}}
                <div class="alert alert-warning">Set a video URL first to generate streaming links.</div>
                {{end}}

                <div class="text-center">
                    <a href="/test-isolation" class="btn btn-outline-secondary btn-sm">Isolation status</a>
                    <a href="/health" class="btn btn-outline-secondary btn-sm">Health</a>
                </div>
            </div>
        </div>
    </div>
</body>
</html>
`))

var confirmTmpl = template.Must(template.New("confirm").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>Video Isolated Successfully</title>
    <link href="https://cdn.jsdelivr.net/npm/bootstrap@5.3.0/dist/css/bootstrap.min.css" rel="stylesheet">
    <meta name="viewport" content="width=device-width, initial-scale=1">
</head>
<body>
    <div class="container mt-5">
        <div class="row justify-content-center">
            <div class="col-lg-6">
                <div class="alert alert-success" role="alert">
                    <h4 class="alert-heading">Isolation complete</h4>
                    <p><strong>Session ID:</strong> {{.SessionID}}</p>
                    <p><strong>Cache buster:</strong> #{{.CacheBuster}}</p>
                    <p class="mb-0"><strong>Time:</strong> {{.Time}}</p>
                </div>

                <div class="card mb-4">
                    <div class="card-header"><h6 class="card-title mb-0">New Video Isolated</h6></div>
                    <div class="card-body">
                        <p class="small text-break bg-light p-2 rounded">{{.URL}}</p>
                    </div>
                </div>

                <div class="card mb-4">
                    <div class="card-header"><h6 class="card-title mb-0">Streaming URLs</h6></div>
                    <div class="card-body">
                        <div class="mb-3">
                            <input type="text" value="{{.BaseURL}}/video" readonly class="form-control font-monospace" onclick="this.select()">
                        </div>
                        <div class="mb-0">
                            <input type="text" value="{{.BaseURL}}/fast" readonly class="form-control font-monospace" onclick="this.select()">
                        </div>
                    </div>
                </div>

                <div class="d-grid gap-2 d-md-flex justify-content-md-center">
                    <a href="/" class="btn btn-outline-primary">Back to Home</a>
                    <a href="/video" class="btn btn-success">Test Video</a>
                </div>
            </div>
        </div>
    </div>
</body>
</html>
`))

var isolationTmpl = template.Must(template.New("isolation").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>Isolation Status</title>
    <link href="https://cdn.jsdelivr.net/npm/bootstrap@5.3.0/dist/css/bootstrap.min.css" rel="stylesheet">
    <meta name="viewport" content="width=device-width, initial-scale=1">
</head>
<body>
    <div class="container mt-5">
        <div class="row justify-content-center">
            <div class="col-lg-6">
                <h2 class="text-center mb-4">Isolation Status</h2>
                <table class="table table-bordered">
                    <tr><th>Current session</th><td><code>{{if .SessionID}}{{.SessionID}}{{else}}none{{end}}</code></td></tr>
                    <tr><th>Current URL</th><td class="text-break small">{{if .CurrentURL}}{{.CurrentURL}}{{else}}not set{{end}}</td></tr>
                    <tr><th>Live sessions</th><td>{{.Sessions}}</td></tr>
                    <tr><th>Session counter</th><td>{{.Counter}}</td></tr>
                    <tr><th>Checked at</th><td>{{.Time}}</td></tr>
                </table>
                <div class="text-center">
                    <a href="/" class="btn btn-outline-primary">Back to Home</a>
                </div>
            </div>
        </div>
    </div>
</body>
</html>
`))

var errorTmpl = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>{{.Code}} - {{.Title}}</title>
    <link href="https://cdn.jsdelivr.net/npm/bootstrap@5.3.0/dist/css/bootstrap.min.css" rel="stylesheet">
    <meta name="viewport" content="width=device-width, initial-scale=1">
</head>
<body>
    <div class="container mt-5">
        <div class="row justify-content-center">
            <div class="col-lg-6 text-center">
                <h1>{{.Code}}</h1>
                <h3>{{.Title}}</h3>
                <p class="text-muted">{{.Message}}</p>
                <a href="/" class="btn btn-primary">Back to Home</a>
            </div>
        </div>
    </div>
</body>
</html>
`))

// baseURL reconstructs the externally visible root URL for link
// generation, honoring the proxy-set forwarding header.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (sp *StreamProxy) renderHome(w http.ResponseWriter, r *http.Request, currentURL, sessionID string, counter int64) {
	data := struct {
		BaseURL     string
		CurrentURL  string
		SessionID   string
		CacheBuster int64
	}{baseURL(r), currentURL, sessionID, counter}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := homeTmpl.Execute(w, data); err != nil {
		logger.Error("[PROXY] Failed to render home page: %v", err)
	}
}

func (sp *StreamProxy) renderSetConfirmation(w http.ResponseWriter, r *http.Request, s *session.Session, url string) {
	data := struct {
		BaseURL     string
		SessionID   string
		CacheBuster int64
		URL         string
		Time        string
	}{baseURL(r), s.ID, s.CacheBuster, url, time.Now().Format("15:04:05")}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := confirmTmpl.Execute(w, data); err != nil {
		logger.Error("[PROXY] Failed to render confirmation page: %v", err)
	}
}

func (sp *StreamProxy) renderIsolationStatus(w http.ResponseWriter, r *http.Request, sessionID, currentURL string, sessions int, counter int64) {
	data := struct {
		SessionID  string
		CurrentURL string
		Sessions   int
		Counter    int64
		Time       string
	}{sessionID, currentURL, sessions, counter, time.Now().Format(time.RFC3339)}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := isolationTmpl.Execute(w, data); err != nil {
		logger.Error("[PROXY] Failed to render isolation page: %v", err)
	}
}

// RenderError writes the styled error page used by the router's 404 and
// 500 fallbacks.
func RenderError(w http.ResponseWriter, code int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	data := struct {
		Code    int
		Title   string
		Message string
	}{code, title, message}
	if err := errorTmpl.Execute(w, data); err != nil {
		logger.Error("[PROXY] Failed to render error page: %v", err)
	}
}
