package runner

import (
	"bytes"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"text/template"

	"github.com/google/uuid"
)

// TemplateEngine renders URL templates such as
// "https://cdn.example.com/100MB.bin?nocache={{uuid}}" so that every request
// bypasses intermediate caches.
type TemplateEngine struct {
	templates map[string]*template.Template
	mu        sync.Mutex
	rng       *rand.Rand
	funcMap   template.FuncMap
}

// TemplateData is passed to the execution context
type TemplateData struct {
	Worker  int
	Cycle   int
	Request uint64
	UUID    string
}

// NewTemplateEngine parses every URL that contains template actions.
func NewTemplateEngine(urls []string, seed int64) (*TemplateEngine, error) {
	e := &TemplateEngine{
		templates: make(map[string]*template.Template),
		rng:       rand.New(rand.NewSource(seed)),
	}

	e.funcMap = template.FuncMap{
		"randomInt":    e.randomInt,
		"randomUUID":   e.randomUUID,
		"randomChoice": e.randomChoice,
	}

	for _, u := range urls {
		if !strings.Contains(u, "{{") {
			continue
		}
		t, err := e.Parse(u)
		if err != nil {
			return nil, fmt.Errorf("%w: url template %q: %v", ErrInvalidConfig, u, err)
		}
		e.templates[u] = t
	}
	return e, nil
}

// Preprocess converts simple variables {{uuid}} to Go template syntax {{.UUID}}
func (e *TemplateEngine) Preprocess(input string) string {
	s := input
	s = strings.ReplaceAll(s, "{{uuid}}", "{{.UUID}}")
	s = strings.ReplaceAll(s, "{{worker}}", "{{.Worker}}")
	s = strings.ReplaceAll(s, "{{cycle}}", "{{.Cycle}}")
	s = strings.ReplaceAll(s, "{{request}}", "{{.Request}}")
	return s
}

func (e *TemplateEngine) Parse(text string) (*template.Template, error) {
	return template.New(text).Funcs(e.funcMap).Option("missingkey=error").Parse(e.Preprocess(text))
}

// Render returns the URL for one request. Plain URLs are returned unchanged.
func (e *TemplateEngine) Render(rawURL string, data TemplateData) (string, error) {
	t, ok := e.templates[rawURL]
	if !ok {
		return rawURL, nil
	}
	if data.UUID == "" {
		data.UUID = uuid.NewString()
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// --- Functions ---

func (e *TemplateEngine) randomInt(min, max int) int {
	if max <= min {
		return min
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Intn(max-min) + min
}

func (e *TemplateEngine) randomUUID() string {
	return uuid.NewString()
}

func (e *TemplateEngine) randomChoice(choices ...string) string {
	if len(choices) == 0 {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return choices[e.rng.Intn(len(choices))]
}
