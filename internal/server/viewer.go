package server

import (
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/loykin/previewd/internal/present"
)

var viewPage = template.Must(template.New("view").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>preview {{.Key}}</title>
<style>html,body{margin:0;height:100%}iframe{border:0;width:100%;height:100%}</style>
</head>
<body>
<iframe src="{{.Endpoint}}" title="{{.Key}}"></iframe>
</body>
</html>
`))

var viewIndex = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>previewd</title></head>
<body>
<h1>Live previews</h1>
{{if .Views}}<ul>
{{range .Views}}<li><a href="{{$.Base}}/view{{.Key}}">{{.Key}}</a> ({{.Endpoint}})</li>
{{end}}</ul>
{{else}}<p>No live previews.</p>
{{end}}</body>
</html>
`))

// handleView serves the embedded viewer: /view/ lists live previews,
// /view/<document-path> frames one endpoint. The wildcard param keeps the
// leading slash, so the segment is the absolute document key.
func (r *Router) handleView(c *gin.Context) {
	if r.hub == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "embedded viewer disabled"})
		return
	}
	key := c.Param("key")
	if key == "" || key == "/" {
		r.renderViewIndex(c)
		return
	}
	v, ok := r.hub.View(key)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no view for key"})
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := viewPage.Execute(c.Writer, map[string]string{
		"Key":      v.Key(),
		"Endpoint": v.Endpoint(),
	}); err != nil {
		r.log.Warn("render view page", "key", key, "error", err)
	}
}

func (r *Router) renderViewIndex(c *gin.Context) {
	data := struct {
		Base  string
		Views []*present.View
	}{Base: r.basePath, Views: r.hub.Views()}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := viewIndex.Execute(c.Writer, data); err != nil {
		r.log.Warn("render view index", "error", err)
	}
}
