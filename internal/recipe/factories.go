package recipe

import (
	"fmt"
	"time"

	"github.com/oriys/fetchengine/internal/bundlestore"
	"github.com/oriys/fetchengine/internal/credentials"
	"github.com/oriys/fetchengine/internal/fetchmodel"
	"github.com/oriys/fetchengine/internal/httppool"
	"github.com/oriys/fetchengine/internal/kvs"
	"github.com/oriys/fetchengine/internal/loader"
	"github.com/oriys/fetchengine/internal/locator"
	"github.com/oriys/fetchengine/internal/registry"
	"github.com/oriys/fetchengine/internal/retry"
	"github.com/oriys/fetchengine/internal/sftppool"
)

// PaginationAdapter supplies the RequestBuilder/ResponseParser pair for one
// named API a pagination locator can be pointed at. Function values cannot
// be expressed in YAML, so recipes reference an adapter by name and the
// operator registers the concrete pair in code at startup.
type PaginationAdapter struct {
	Build locator.RequestBuilder
	Parse locator.ResponseParser
}

// Deps bundles every shared resource a locator or loader factory may need.
// Pools and the credential provider are looked up by name so one process
// can run several recipes against different upstream endpoints.
type Deps struct {
	KVStore            kvs.Store
	HTTPPools          map[string]*httppool.Pool
	SFTPPools          map[string]*sftppool.Pool
	Storage            *bundlestore.Storage
	PaginationAdapters map[string]PaginationAdapter
	RelatedDiscoverers map[string]func(body []byte, baseURL string) []loader.RelatedResource
}

func (d Deps) httpPool(name string) (*httppool.Pool, error) {
	p, ok := d.HTTPPools[name]
	if !ok {
		return nil, fmt.Errorf("recipe: unknown http pool %q", name)
	}
	return p, nil
}

func (d Deps) sftpPool(name string) (*sftppool.Pool, error) {
	p, ok := d.SFTPPools[name]
	if !ok {
		return nil, fmt.Errorf("recipe: unknown sftp pool %q", name)
	}
	return p, nil
}

func (d Deps) paginationAdapter(name string) (PaginationAdapter, error) {
	a, ok := d.PaginationAdapters[name]
	if !ok {
		return PaginationAdapter{}, fmt.Errorf("recipe: unknown pagination adapter %q", name)
	}
	return a, nil
}

// --- param extraction helpers -----------------------------------------

func paramString(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func paramStringSlice(params map[string]any, key string) []string {
	v, ok := params[key]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func paramInt(params map[string]any, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch vv := v.(type) {
	case int:
		return vv
	case int64:
		return int(vv)
	case float64:
		return int(vv)
	default:
		return def
	}
}

func paramDate(params map[string]any, key string) (time.Time, error) {
	s, ok := paramString(params, key)
	if !ok || s == "" {
		return time.Time{}, fmt.Errorf("%s is required (YYYY-MM-DD)", key)
	}
	return time.Parse("2006-01-02", s)
}

// --- locator factories ---------------------------------------------------

type singleURLFactory struct{ deps Deps }

func (f singleURLFactory) Validate(params map[string]any) error {
	if len(paramStringSlice(params, "urls")) == 0 {
		return registry.InvalidArgument("urls", "at least one url is required")
	}
	return nil
}

func (f singleURLFactory) Create(params map[string]any) (fetchmodel.Locator, error) {
	id, _ := paramString(params, "id")
	urls := paramStringSlice(params, "urls")
	return locator.NewSingleURLLocator(id, urls, f.deps.KVStore), nil
}

type sftpDirFactory struct{ deps Deps }

func (f sftpDirFactory) Validate(params map[string]any) error {
	if _, ok := paramString(params, "pool"); !ok {
		return registry.InvalidArgument("pool", "pool name is required")
	}
	if _, ok := paramString(params, "dir"); !ok {
		return registry.InvalidArgument("dir", "dir is required")
	}
	return nil
}

func (f sftpDirFactory) Create(params map[string]any) (fetchmodel.Locator, error) {
	id, _ := paramString(params, "id")
	poolName, _ := paramString(params, "pool")
	pool, err := f.deps.sftpPool(poolName)
	if err != nil {
		return nil, err
	}
	dir, _ := paramString(params, "dir")
	pattern, _ := paramString(params, "pattern")
	return locator.NewDirectorySFTPLocator(id, pool, dir, pattern, f.deps.KVStore), nil
}

type sftpFileFactory struct{ deps Deps }

func (f sftpFileFactory) Validate(params map[string]any) error {
	if _, ok := paramString(params, "pool"); !ok {
		return registry.InvalidArgument("pool", "pool name is required")
	}
	if len(paramStringSlice(params, "paths")) == 0 {
		return registry.InvalidArgument("paths", "at least one path is required")
	}
	return nil
}

func (f sftpFileFactory) Create(params map[string]any) (fetchmodel.Locator, error) {
	id, _ := paramString(params, "id")
	poolName, _ := paramString(params, "pool")
	pool, err := f.deps.sftpPool(poolName)
	if err != nil {
		return nil, err
	}
	paths := paramStringSlice(params, "paths")
	return locator.NewFileSFTPLocator(id, pool, paths, f.deps.KVStore), nil
}

// paginationFactory backs both api_pagination and reverse_pagination; only
// the direction of the constructed locator differs.
type paginationFactory struct {
	deps    Deps
	reverse bool
}

func (f paginationFactory) Validate(params map[string]any) error {
	if _, ok := paramString(params, "pool"); !ok {
		return registry.InvalidArgument("pool", "pool name is required")
	}
	if _, ok := paramString(params, "adapter"); !ok {
		return registry.InvalidArgument("adapter", "adapter name is required")
	}
	if _, err := paramDate(params, "dateStart"); err != nil {
		return registry.InvalidArgument("dateStart", err.Error())
	}
	if _, err := paramDate(params, "dateEnd"); err != nil {
		return registry.InvalidArgument("dateEnd", err.Error())
	}
	return nil
}

func (f paginationFactory) Create(params map[string]any) (fetchmodel.Locator, error) {
	id, _ := paramString(params, "id")
	poolName, _ := paramString(params, "pool")
	pool, err := f.deps.httpPool(poolName)
	if err != nil {
		return nil, err
	}
	adapterName, _ := paramString(params, "adapter")
	adapter, err := f.deps.paginationAdapter(adapterName)
	if err != nil {
		return nil, err
	}
	dateStart, err := paramDate(params, "dateStart")
	if err != nil {
		return nil, err
	}
	dateEnd, err := paramDate(params, "dateEnd")
	if err != nil {
		return nil, err
	}
	maxRecords := paramInt(params, "maxRecords", 1000)
	narrowing := buildNarrowing(params)
	policy := retry.DefaultPolicy()
	if mr := paramInt(params, "maxRetries", -1); mr >= 0 {
		policy.MaxRetries = mr
	}

	if f.reverse {
		return locator.NewReversePaginationLocator(id, pool, dateStart, dateEnd, maxRecords, narrowing, policy, adapter.Build, adapter.Parse, f.deps.KVStore), nil
	}
	return locator.NewAPIPaginationLocator(id, pool, dateStart, dateEnd, maxRecords, narrowing, policy, adapter.Build, adapter.Parse, f.deps.KVStore), nil
}

func buildNarrowing(params map[string]any) locator.NarrowingStrategy {
	v, ok := params["narrowing"]
	if !ok {
		return locator.NoNarrowing{}
	}
	m, ok := v.(map[string]any)
	if !ok {
		return locator.NoNarrowing{}
	}
	kind, _ := paramString(m, "type")
	if kind == "hexPrefix" {
		return locator.HexPrefixNarrowing{Width: paramInt(m, "width", 2)}
	}
	return locator.NoNarrowing{}
}

// NewLocatorRegistry registers every concrete BundleLocator variant this
// engine ships, bound to deps.
func NewLocatorRegistry(deps Deps) *registry.Registry[fetchmodel.Locator] {
	r := registry.New[fetchmodel.Locator]()
	r.Register("single_url", singleURLFactory{deps})
	r.Register("sftp_dir", sftpDirFactory{deps})
	r.Register("sftp_file", sftpFileFactory{deps})
	r.Register("api_pagination", paginationFactory{deps: deps, reverse: false})
	r.Register("reverse_pagination", paginationFactory{deps: deps, reverse: true})
	return r
}

// --- loader factories -----------------------------------------------------

type httpLoaderFactory struct{ deps Deps }

func (f httpLoaderFactory) Validate(params map[string]any) error {
	if _, ok := paramString(params, "pool"); !ok {
		return registry.InvalidArgument("pool", "pool name is required")
	}
	return nil
}

func (f httpLoaderFactory) Create(params map[string]any) (fetchmodel.Loader, error) {
	poolName, _ := paramString(params, "pool")
	pool, err := f.deps.httpPool(poolName)
	if err != nil {
		return nil, err
	}
	l := &loader.HTTPLoader{Pool: pool, Storage: f.deps.Storage}
	if discName, ok := paramString(params, "discoverRelated"); ok {
		if fn, ok := f.deps.RelatedDiscoverers[discName]; ok {
			l.DiscoverRelated = fn
		}
	}
	return l, nil
}

type sftpLoaderFactory struct{ deps Deps }

func (f sftpLoaderFactory) Validate(params map[string]any) error {
	if _, ok := paramString(params, "pool"); !ok {
		return registry.InvalidArgument("pool", "pool name is required")
	}
	mode, _ := paramString(params, "mode")
	if mode != "" && mode != "file" && mode != "directory" {
		return registry.InvalidArgument("mode", `must be "file" or "directory"`)
	}
	return nil
}

func (f sftpLoaderFactory) Create(params map[string]any) (fetchmodel.Loader, error) {
	poolName, _ := paramString(params, "pool")
	pool, err := f.deps.sftpPool(poolName)
	if err != nil {
		return nil, err
	}
	mode := loader.SFTPModeFile
	if m, _ := paramString(params, "mode"); m == "directory" {
		mode = loader.SFTPModeDirectory
	}
	return &loader.SFTPLoader{Pool: pool, Storage: f.deps.Storage, Mode: mode}, nil
}

// NewLoaderRegistry registers every concrete BundleLoader variant this
// engine ships, bound to deps.
func NewLoaderRegistry(deps Deps) *registry.Registry[fetchmodel.Loader] {
	r := registry.New[fetchmodel.Loader]()
	r.Register("http", httpLoaderFactory{deps})
	r.Register("sftp", sftpLoaderFactory{deps})
	return r
}

// DefaultPaginationAdapters returns an empty adapter set; callers register
// real RequestBuilder/ResponseParser pairs for each upstream API their
// recipes reference before building registries.
func DefaultPaginationAdapters() map[string]PaginationAdapter {
	return make(map[string]PaginationAdapter)
}
