package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"mime"
	"path"
	"regexp"
	"strings"
	"sync"
)

//go:embed templates
var embedded embed.FS

// Rendered is the output of a template: HTML plus the inline parts it references.
type Rendered struct {
	HTML        string
	Attachments []Attachment
}

// Renderer turns a named template and its variables into an email body.
type Renderer interface {
	Render(name string, vars map[string]any) (Rendered, error)
}

// imageRef matches src="images/<file>" for the image types mail clients render inline.
var imageRef = regexp.MustCompile(`(?i)src="images/([^"\s]+?)\.(png|jpe?g|gif|svg|webp)"`)

// TemplateRenderer renders <name>.html files from a filesystem. Images under
// images/ that a template references are attached inline and their src
// rewritten to cid:<basename>.
type TemplateRenderer struct {
	fsys fs.FS

	mu    sync.RWMutex
	cache map[string]*template.Template
}

// NewTemplateRenderer reads templates from fsys.
func NewTemplateRenderer(fsys fs.FS) *TemplateRenderer {
	return &TemplateRenderer{fsys: fsys, cache: make(map[string]*template.Template)}
}

// DefaultTemplates returns the templates compiled into the binary.
func DefaultTemplates() fs.FS {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		panic(err)
	}
	return sub
}

func (r *TemplateRenderer) Render(name string, vars map[string]any) (Rendered, error) {
	tmpl, err := r.lookup(name)
	if err != nil {
		return Rendered{}, err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return Rendered{}, fmt.Errorf("mail: render template %q: %w", name, err)
	}
	html := buf.String()

	var attachments []Attachment
	seen := make(map[string]bool)
	for _, m := range imageRef.FindAllStringSubmatch(html, -1) {
		filename := m[1] + "." + m[2]
		if seen[filename] {
			continue
		}
		seen[filename] = true
		data, err := fs.ReadFile(r.fsys, path.Join("images", filename))
		if err != nil {
			return Rendered{}, fmt.Errorf("mail: template %q references missing image %q: %w", name, filename, err)
		}
		attachments = append(attachments, Attachment{
			ContentID:   m[1],
			Filename:    filename,
			ContentType: contentType(filename),
			Data:        data,
		})
	}
	html = imageRef.ReplaceAllString(html, `src="cid:$1"`)

	return Rendered{HTML: html, Attachments: attachments}, nil
}

func (r *TemplateRenderer) lookup(name string) (*template.Template, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return nil, fmt.Errorf("mail: invalid template name %q", name)
	}

	r.mu.RLock()
	tmpl, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	src, err := fs.ReadFile(r.fsys, name+".html")
	if err != nil {
		return nil, fmt.Errorf("mail: load template %q: %w", name, err)
	}
	tmpl, err = template.New(name).Option("missingkey=error").Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("mail: parse template %q: %w", name, err)
	}

	r.mu.Lock()
	r.cache[name] = tmpl
	r.mu.Unlock()
	return tmpl, nil
}

func contentType(filename string) string {
	if ct := mime.TypeByExtension(path.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
