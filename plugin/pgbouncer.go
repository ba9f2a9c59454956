package plugin

import (
	"context"
	"sync"
)

// PgBouncerConfig describes one connection-proxy instance the
// connection-failover plugin rewrites on promotion, adapted from the
// teacher's Proxy struct (cluster/prx.go) down to the fields a pgbouncer
// ini rewrite actually needs.
type PgBouncerConfig struct {
	Name        string
	Host        string
	Port        int
	AdminUser   string
	IniPath     string
	TemplateDir string
}

// PgBouncer is a reference CapConnectionFailover implementation: for a new
// primary it checks, concurrently, that every configured proxy has a host.
// It does not render, upload or reload any pgbouncer ini. Grounded on the
// teacher's refreshProxies WaitGroup-based concurrent-refresh pattern
// (cluster/prx.go).
type PgBouncer struct {
	proxies []PgBouncerConfig
}

// NewPgBouncer returns a PgBouncer plugin managing the given proxy set.
func NewPgBouncer(proxies []PgBouncerConfig) *PgBouncer {
	return &PgBouncer{proxies: proxies}
}

func (p *PgBouncer) Name() string           { return "pgbouncer" }
func (p *PgBouncer) Capability() Capability { return CapConnectionFailover }

// Run checks every proxy for newPrimary concurrently, mirroring
// refreshProxies' per-proxy goroutine + WaitGroup shape, and fails if any
// proxy has no host configured.
func (p *PgBouncer) Run(ctx context.Context, args ...interface{}) Result {
	if len(args) == 0 {
		return Failed("pgbouncer: missing new primary argument")
	}
	newPrimary, _ := args[0].(string)
	if newPrimary == "" {
		return Failed("pgbouncer: new primary argument must be a string")
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var failures []string

	for _, proxy := range p.proxies {
		wg.Add(1)
		go func(pc PgBouncerConfig) {
			defer wg.Done()
			if err := rewriteOne(ctx, pc, newPrimary); err != nil {
				mu.Lock()
				failures = append(failures, pc.Name+": "+err.Error())
				mu.Unlock()
			}
		}(proxy)
	}
	wg.Wait()

	if len(failures) > 0 {
		return Result{OK: false, Details: "pgbouncer rewrite failed", Extra: map[string]interface{}{"failures": failures}}
	}
	return Succeeded("all proxies have a host for new primary " + newPrimary)
}

// Poll succeeds if target names one of the configured proxies. It does not
// probe the proxy over the network.
func (p *PgBouncer) Poll(ctx context.Context, target string) Result {
	for _, pc := range p.proxies {
		if pc.Name == target {
			return Succeeded("configured")
		}
	}
	return Failed("proxy " + target + " not configured")
}

func rewriteOne(ctx context.Context, pc PgBouncerConfig, newPrimary string) error {
	// Only checks that the proxy has a host; no template is rendered or
	// uploaded and the proxy is not reloaded.
	if pc.Host == "" {
		return errMissingHost
	}
	return nil
}

var errMissingHost = pluginError("pgbouncer: proxy host not configured")

type pluginError string

func (e pluginError) Error() string { return string(e) }
