package web

import (
	"html/template"
	"strings"
)

var overlayFuncs = template.FuncMap{
	// Thumbnails are data:image/ URIs checked by the normalizer
	"thumbURL": func(s string) template.URL {
		if !strings.HasPrefix(s, "data:image/") {
			return ""
		}
		return template.URL(s)
	},
}

var overlayTemplate = template.Must(template.New("overlay").Funcs(overlayFuncs).Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>SherlockCombs</title>
</head>
<body data-version="{{.Version}}">
{{- range .Badges}}
  <form class="sherlock-badge" data-container="{{.Container}}" data-image="{{.ImageID}}" method="post" action="/tabs/{{$.TabID}}/badges/{{.Container}}/click">
    <button type="submit">{{.Price}}</button>
  </form>
{{- end}}
{{- with .Panel}}
  <div class="sherlock-overlay{{if .Pinned}} sherlock-overlay--pinned{{end}}" data-panel="{{.ID}}" data-kind="{{.Kind}}"{{if .Anchor}} data-anchor="{{.Anchor.ID}}"{{else}} data-anchor="fixed"{{end}}>
    <div class="sherlock-overlay__header">
      <span class="sherlock-overlay__title">SherlockCombs</span>
      <form method="post" action="/tabs/{{$.TabID}}/overlay/pin"><button type="submit" title="{{if .Pinned}}Unpin panel{{else}}Pin panel{{end}}">{{if .Pinned}}Unpin{{else}}Pin{{end}}</button></form>
      <form method="post" action="/tabs/{{$.TabID}}/overlay/close"><button type="submit" title="Close">Close</button></form>
    </div>
    {{- if eq .Kind "loading"}}
    <div class="sherlock-overlay__loading">{{.Text}}</div>
    {{- else if eq .Kind "failed"}}
    <div class="sherlock-overlay__error">{{.Text}}</div>
    {{- else}}
    {{- if .Style}}
    <div class="sherlock-overlay__style">Style: {{.Style}}</div>
    {{- end}}
    <div class="sherlock-overlay__best">Best Price: {{.BestPrice}}</div>
    <div class="sherlock-overlay__results">
      {{- range $i, $o := .Offers}}
      <a class="sherlock-overlay__card" href="/tabs/{{$.TabID}}/overlay/offers/{{$i}}" target="_blank" rel="noopener">
        {{- if $o.HasThumbnail}}
        <img class="sherlock-overlay__thumb" src="{{thumbURL $o.Thumbnail}}" alt="{{$o.Title}}">
        {{- else}}
        <div class="sherlock-overlay__thumb-placeholder"></div>
        {{- end}}
        {{- if $o.Best}}
        <div class="sherlock-overlay__best-badge">Best</div>
        {{- end}}
        <div class="sherlock-overlay__card-title">{{$o.Title}}</div>
        <span class="sherlock-overlay__card-price">{{$o.Price}}</span>
        <span class="sherlock-overlay__card-rating">{{$o.Rating}}</span>
        <div class="sherlock-overlay__card-source">{{$o.Source}}</div>
      </a>
      {{- end}}
    </div>
    {{- end}}
  </div>
{{- end}}
</body>
</html>
`))

type overlayPage struct {
	TabID string
	viewState
}
