package output

import (
	"bytes"
	"html/template"
)

const layout = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}} - {{.SiteName}}</title>
{{- if .Robots}}
<meta name="robots" content="{{.Robots}}">
{{- end}}
{{- if .Printable}}
<link rel="stylesheet" href="{{.StylePath}}/print.css">
{{- else}}
<link rel="stylesheet" href="{{.StylePath}}/screen.css">
{{- end}}
</head>
<body>
{{- if not .Printable}}
<header id="site-header"><a href="{{.MainPageURL}}">{{.SiteName}}</a></header>
{{- end}}
<main id="content">
<h1 id="firstHeading">{{.Title}}</h1>
{{- range .Subtitles}}
<div class="subtitle">{{.}}</div>
{{- end}}
<div id="bodyContent">
{{.Body}}
</div>
</main>
</body>
</html>
`

// Skin wraps page bodies in the site layout.
type Skin struct {
	SiteName    string
	MainPageURL string
	StylePath   string
	tmpl        *template.Template
}

// NewSkin parses the layout once.
func NewSkin(siteName, mainPageURL string) *Skin {
	if siteName == "" {
		siteName = Msg("sitename")
	}
	return &Skin{
		SiteName:    siteName,
		MainPageURL: mainPageURL,
		StylePath:   "/skins",
		tmpl:        template.Must(template.New("layout").Parse(layout)),
	}
}

type skinData struct {
	SiteName    string
	MainPageURL string
	StylePath   string
	Title       string
	Robots      string
	Printable   bool
	Subtitles   []template.HTML
	Body        template.HTML
}

func (s *Skin) render(p *Page) ([]byte, error) {
	var buf bytes.Buffer
	err := s.tmpl.Execute(&buf, skinData{
		SiteName:    s.SiteName,
		MainPageURL: s.MainPageURL,
		StylePath:   s.StylePath,
		Title:       p.title,
		Robots:      p.robots,
		Printable:   p.printable,
		Subtitles:   p.subtitles,
		Body:        template.HTML(p.body.String()),
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
