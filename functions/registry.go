// Package functions holds the tools the agent may call during a live session.
package functions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"google.golang.org/genai"
)

// Handler answers one function call. The returned map becomes the function response.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Registry maps function declarations to their handlers
type Registry struct {
	mu       sync.RWMutex
	decls    map[string]*genai.FunctionDeclaration
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		decls:    make(map[string]*genai.FunctionDeclaration),
		handlers: make(map[string]Handler),
	}
}

// Register adds a function. Registering the same name twice is an error.
func (r *Registry) Register(decl *genai.FunctionDeclaration, h Handler) error {
	if decl == nil || decl.Name == "" {
		return fmt.Errorf("function declaration needs a name")
	}
	if h == nil {
		return fmt.Errorf("function %s: nil handler", decl.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.decls[decl.Name]; exists {
		return fmt.Errorf("function %s already registered", decl.Name)
	}
	r.decls[decl.Name] = decl
	r.handlers[decl.Name] = h
	return nil
}

// Len returns the number of registered functions
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.decls)
}

// Tool returns the declarations as one Gemini tool, or nil when empty.
func (r *Registry) Tool() *genai.Tool {
	if r.Len() == 0 {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.decls))
	for name := range r.decls {
		names = append(names, name)
	}
	sort.Strings(names)

	decls := make([]*genai.FunctionDeclaration, 0, len(names))
	for _, name := range names {
		decls = append(decls, r.decls[name])
	}
	return &genai.Tool{FunctionDeclarations: decls}
}

// Call runs the handler for fc. Unknown functions and handler errors are
// reported to the model in the response rather than failing the session.
func (r *Registry) Call(ctx context.Context, fc *genai.FunctionCall) *genai.FunctionResponse {
	resp := &genai.FunctionResponse{ID: fc.ID, Name: fc.Name}

	var h Handler
	if r != nil {
		r.mu.RLock()
		h = r.handlers[fc.Name]
		r.mu.RUnlock()
	}
	if h == nil {
		resp.Response = map[string]any{"error": fmt.Sprintf("Unknown function: %s", fc.Name)}
		return resp
	}

	out, err := h(ctx, fc.Args)
	if err != nil {
		resp.Response = map[string]any{"error": err.Error()}
		return resp
	}
	resp.Response = out
	return resp
}
