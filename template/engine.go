// Package template provides the text/template engine used to render persona instructions.
package template

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/bytedance/sonic"
)

// ErrRenderFailed wraps parse and execution failures.
var ErrRenderFailed = errors.New("template: render failed")

// Engine renders templates using Go text/template with custom functions.
// Parsed templates are cached by source text.
type Engine struct {
	leftDelim  string
	rightDelim string
	funcMap    template.FuncMap

	mu    sync.RWMutex
	cache map[string]*template.Template
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithDelims sets custom delimiters (default "{{" and "}}").
func WithDelims(left, right string) EngineOption {
	return func(e *Engine) {
		e.leftDelim = left
		e.rightDelim = right
	}
}

// WithFuncMap adds custom template functions.
func WithFuncMap(fm template.FuncMap) EngineOption {
	return func(e *Engine) {
		for k, v := range fm {
			e.funcMap[k] = v
		}
	}
}

// NewEngine creates a new template engine with default or custom options.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		leftDelim:  "{{",
		rightDelim: "}}",
		funcMap:    defaultFuncMap(),
		cache:      make(map[string]*template.Template),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func defaultFuncMap() template.FuncMap {
	return template.FuncMap{
		"join":    strings.Join,
		"upper":   strings.ToUpper,
		"lower":   strings.ToLower,
		"trim":    strings.TrimSpace,
		"default": defaultFunc,
		"json":    jsonFunc,
	}
}

func defaultFunc(def, val interface{}) interface{} {
	if val == nil || val == "" {
		return def
	}
	return val
}

func jsonFunc(v interface{}) (string, error) {
	return sonic.MarshalString(v)
}

// Render executes tpl against data. An empty template renders to "".
func (e *Engine) Render(ctx context.Context, tpl string, data interface{}) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if tpl == "" {
		return "", nil
	}
	t, err := e.parse(tpl)
	if err != nil {
		return "", fmt.Errorf("%w: parse: %w", ErrRenderFailed, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: execute: %w", ErrRenderFailed, err)
	}
	return buf.String(), nil
}

// Parse validates tpl and caches the result.
func (e *Engine) Parse(tpl string) error {
	_, err := e.parse(tpl)
	if err != nil {
		return fmt.Errorf("%w: parse: %w", ErrRenderFailed, err)
	}
	return nil
}

func (e *Engine) parse(tpl string) (*template.Template, error) {
	e.mu.RLock()
	t, ok := e.cache[tpl]
	e.mu.RUnlock()
	if ok {
		return t, nil
	}
	t, err := template.New("").Delims(e.leftDelim, e.rightDelim).Funcs(e.funcMap).Option("missingkey=error").Parse(tpl)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.cache[tpl] = t
	e.mu.Unlock()
	return t, nil
}
