package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"text/template"

	"github.com/gabapcia/xcmwatch/internal/xcm"
)

var templateFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
}

// renderer executes webhook templates against the JSON view of a message,
// so templates use the wire field names: {{.messageId}}, {{.origin.chainId}}.
type renderer struct {
	mu    sync.Mutex
	cache map[string]*template.Template
}

func newRenderer() *renderer {
	return &renderer{cache: make(map[string]*template.Template)}
}

func (r *renderer) parse(src string) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tpl, ok := r.cache[src]; ok {
		return tpl, nil
	}

	tpl, err := template.New("webhook").Funcs(templateFuncs).Option("missingkey=zero").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	r.cache[src] = tpl
	return tpl, nil
}

func (r *renderer) Render(src string, env xcm.Envelope) ([]byte, error) {
	tpl, err := r.parse(src)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	return buf.Bytes(), nil
}
