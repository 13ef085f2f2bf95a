package web

import (
	"embed"
	"html/template"
	"io"
	"sync"
	"time"

	"github.com/matst80/tcprelay/internal/obs"
)

//go:embed templates/*.html
var tmplFS embed.FS

var (
	once sync.Once
	tmpl *template.Template
)

func load() {
	funcs := template.FuncMap{
		"since": func(t time.Time) string { return time.Since(t).Round(time.Second).String() },
	}
	tmpl = template.Must(template.New("base").Funcs(funcs).ParseFS(tmplFS, "templates/*.html"))
}

// Render writes the named template (which can rely on base) to w with data enriched by Now.
func Render(w io.Writer, name string, data map[string]any) error {
	once.Do(load)
	if data == nil {
		data = map[string]any{}
	}
	data["Now"] = time.Now().Format(time.RFC822)
	if err := tmpl.ExecuteTemplate(w, name, data); err != nil {
		// fallback if wrapper definition missing
		obs.Error("web.render", obs.Fields{"template": name, "err": err})
		return tmpl.ExecuteTemplate(w, "base", data)
	}
	return nil
}
