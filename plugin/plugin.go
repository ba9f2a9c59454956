// Package plugin defines the capability-scoped plugin contract the control
// core dispatches all side-effectful operations through: SSH, service
// control, promotion, replication probing, connection rewriting,
// authentication, archiving and alerting. Concrete plugin bodies are an
// external collaborator; this package ships only the registry, the
// capability set and the failing stub every unresolved lookup returns.
package plugin

import "context"

// Capability names one of the nine plugin roles a registry entry can serve.
type Capability string

const (
	CapProbe              Capability = "probe"
	CapService             Capability = "service"
	CapPromotion           Capability = "promotion"
	CapReplicationStatus   Capability = "replication-status"
	CapSelection           Capability = "selection"
	CapConnectionFailover  Capability = "connection-failover"
	CapArchive             Capability = "archive"
	CapAuthentication      Capability = "authentication"
	CapAlert               Capability = "alerting"
)

// Result is the uniform {ok, details, extra} envelope every plugin call
// returns. Callers read only documented extra keys.
type Result struct {
	OK      bool
	Details string
	Extra   map[string]interface{}
}

// Failed is a convenience constructor for a failing Result.
func Failed(details string) Result {
	return Result{OK: false, Details: details}
}

// Succeeded is a convenience constructor for a succeeding Result.
func Succeeded(details string) Result {
	return Result{OK: true, Details: details}
}

// Plugin is the contract every registry entry implements: Name, Capability
// and Run. The optional lifecycle hooks are the separate interfaces below;
// callers type-assert for the subset they need.
type Plugin interface {
	Name() string
	Capability() Capability
	Run(ctx context.Context, args ...interface{}) Result
}

// Initializer is implemented by plugins with setup work.
type Initializer interface {
	Init(ctx context.Context) Result
}

// Poller is implemented by plugins that support a cheap liveness probe.
type Poller interface {
	Poll(ctx context.Context, target string) Result
}

// ServiceController is implemented by service-control-capable plugins.
type ServiceController interface {
	Start(ctx context.Context, target string) Result
	Stop(ctx context.Context, target string) Result
}

// RecoveryLiner is implemented by plugins that render a recovery
// configuration line/template (promotion, clone).
type RecoveryLiner interface {
	RecoveryLine(ctx context.Context, target string) (string, Result)
}

// Tester is implemented by plugins exposing a self-test.
type Tester interface {
	Test(ctx context.Context) Result
}

// stub is the failing plugin every unresolved lookup returns. Its every
// call fails uniformly so a caller need not distinguish load failure from
// runtime failure.
type stub struct {
	name string
	cap  Capability
}

func (s *stub) Name() string           { return s.name }
func (s *stub) Capability() Capability { return s.cap }
func (s *stub) Run(ctx context.Context, args ...interface{}) Result {
	return Failed("plugin " + s.name + " not available")
}

// Registry resolves named plugins to their capability-typed handle, falling
// back to a failing stub when a name is unregistered.
type Registry struct {
	plugins map[string]Plugin
	builtin map[Capability]Plugin
}

// NewRegistry returns an empty registry. Builtins installed later with
// RegisterBuiltin supply a fallback implementation per capability tried
// before the failing stub — mirroring the original's get_plugin/failplugin
// pairing.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
		builtin: make(map[Capability]Plugin),
	}
}

// Register adds or replaces a named plugin.
func (r *Registry) Register(p Plugin) {
	r.plugins[p.Name()] = p
}

// RegisterBuiltin installs a default plugin to try for a capability before
// returning the failing stub.
func (r *Registry) RegisterBuiltin(cap Capability, p Plugin) {
	r.builtin[cap] = p
}

// Get resolves name to a Plugin. An unregistered name, for capability cap,
// resolves to the builtin default if one is registered, else a failing
// stub.
func (r *Registry) Get(name string, cap Capability) Plugin {
	if p, ok := r.plugins[name]; ok {
		return p
	}
	if p, ok := r.builtin[cap]; ok {
		return p
	}
	return &stub{name: name, cap: cap}
}
