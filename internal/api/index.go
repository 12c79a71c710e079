package api

import (
	"bytes"
	_ "embed"
	"fmt"
	"net/http"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed index.md
var indexMarkdown []byte

// renderIndex converts the embedded Markdown into the index page once.
var renderIndex = sync.OnceValues(func() ([]byte, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var body bytes.Buffer
	if err := md.Convert(indexMarkdown, &body); err != nil {
		return nil, fmt.Errorf("render index: %w", err)
	}

	var page bytes.Buffer
	page.WriteString(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>MCP Sequential Thinking Tools</title></head>
<body style="font-family: sans-serif; max-width: 48em; margin: 2em auto; line-height: 1.5;">
`)
	page.Write(body.Bytes())
	page.WriteString("</body></html>\n")
	return page.Bytes(), nil
})

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	// "GET /" matches every path the mux does not otherwise route.
	if r.URL.Path != "/" {
		s.errorResponse(w, http.StatusNotFound, "not found")
		return
	}

	page, err := renderIndex()
	if err != nil {
		s.logger.Error("failed to render index", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "index unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(page); err != nil {
		s.logger.Debug("failed to write index", "error", err)
	}
}
