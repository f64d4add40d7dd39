package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	xerrors "ToolFlow/internal/errors"
)

// Registry indexes the tools exposed by a set of provider clients and routes
// invocations to the provider that owns each tool.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
	tools   map[string]ToolDescriptor
	owners  map[string]Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]Client),
		tools:   make(map[string]ToolDescriptor),
		owners:  make(map[string]Client),
	}
}

// Register lists the client's tools and indexes them. Tool names must be
// unique across providers.
func (r *Registry) Register(ctx context.Context, client Client) error {
	if client == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "provider client 不能为空")
	}
	descriptors, err := client.Tools(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeProviderFailure, err, fmt.Sprintf("列举提供方 %s 的工具失败", client.Name()))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[client.Name()]; ok {
		return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("提供方 %s 已注册", client.Name()))
	}
	for _, desc := range descriptors {
		if owner, ok := r.tools[desc.Name]; ok {
			return xerrors.New(xerrors.CodeConflict,
				fmt.Sprintf("工具 %s 同时由提供方 %s 与 %s 暴露", desc.Name, owner.Provider, client.Name()))
		}
	}
	r.clients[client.Name()] = client
	for _, desc := range descriptors {
		desc.Provider = client.Name()
		r.tools[desc.Name] = desc
		r.owners[desc.Name] = client
	}
	return nil
}

// Has reports whether some registered provider exposes the tool.
func (r *Registry) Has(tool string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.owners[tool]
	return ok
}

// Invoke routes the call to the provider owning the tool.
func (r *Registry) Invoke(ctx context.Context, tool string, params map[string]any) (any, error) {
	r.mu.RLock()
	client, ok := r.owners[tool]
	r.mu.RUnlock()
	if !ok {
		return nil, xerrors.Wrap(CodeToolUnknown, ErrToolUnknown, fmt.Sprintf("没有提供方暴露工具 %s", tool))
	}
	return client.Invoke(ctx, tool, params)
}

// Tools returns every registered tool sorted by name.
func (r *Registry) Tools() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]ToolDescriptor, 0, len(r.tools))
	for _, desc := range r.tools {
		result = append(result, desc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Providers returns the names of all registered providers sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, client := range r.clients {
		if client != nil {
			_ = client.Close()
		}
		delete(r.clients, name)
	}
	r.tools = make(map[string]ToolDescriptor)
	r.owners = make(map[string]Client)
}

var _ Invoker = (*Registry)(nil)
