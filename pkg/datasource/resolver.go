package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
)

// NoneName is the fallback datasource that always succeeds.
const NoneName = "None"

// Resolver picks the datasource for this boot.
type Resolver struct {
	Registry *Registry
}

// NewResolver returns a Resolver over the built-in datasources.
func NewResolver() *Resolver {
	return &Resolver{Registry: DefaultRegistry()}
}

// Identify runs every source's Detect concurrently and returns the names
// that detected, in the order given. None is moved to the end if listed.
func (r *Resolver) Identify(ctx context.Context, env *Env, names []string) []string {
	sources := make([]Source, len(names))
	for i, name := range names {
		src, ok := r.Registry.Lookup(name)
		if !ok {
			slog.Warn("unknown datasource", slog.String("name", name))
			continue
		}
		sources[i] = src
	}

	detected := make([]bool, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, src := range sources {
		if src == nil {
			continue
		}
		g.Go(func() error {
			detected[i] = src.Detect(gctx, env)
			return nil
		})
	}
	_ = g.Wait()

	found := make([]string, 0, len(names))
	hasNone := false
	for i, src := range sources {
		if src == nil || !detected[i] {
			continue
		}
		if strings.EqualFold(src.Name(), NoneName) {
			hasNone = true
			continue
		}
		found = append(found, src.Name())
	}
	if hasNone {
		found = append(found, NoneName)
	}

	slog.Debug("datasource identification finished",
		slog.Any("candidates", names), slog.Any("found", found))
	return found
}

// Find crawls, in list order, every named source whose dependencies are
// satisfied by deps. The first successful crawl wins.
func (r *Resolver) Find(ctx context.Context, env *Env, names []string, deps []Dependency) (*Data, error) {
	var tried []string
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		src, ok := r.Registry.Lookup(name)
		if !ok {
			slog.Warn("skipping unknown datasource", slog.String("name", name))
			continue
		}
		if !satisfied(src.Dependencies(), deps) {
			continue
		}
		tried = append(tried, src.Name())

		if !src.Detect(ctx, env) {
			slog.Debug("datasource not detected", slog.String("datasource", src.Name()))
			continue
		}

		data, err := src.Crawl(ctx, env)
		if err != nil {
			slog.Warn("datasource crawl failed",
				slog.String("datasource", src.Name()), slog.Any("error", err))
			continue
		}
		if data.InstanceID == "" {
			slog.Warn("datasource crawl failed",
				slog.String("datasource", src.Name()), slog.Any("error", ErrNoInstanceID))
			continue
		}
		if data.Source == "" {
			data.Source = src.Name()
		}

		slog.Info("found datasource",
			slog.String("datasource", data.Source),
			slog.String("instance_id", data.InstanceID))
		return data, nil
	}

	return nil, fmt.Errorf("%w (tried: %s)", ErrNotFound, strings.Join(tried, ", "))
}

// Restore returns the cached datasource data if it is still valid for this
// boot, or nil if the caller has to crawl again.
func (r *Resolver) Restore(ctx context.Context, env *Env, bootID string) (*Data, error) {
	cached, err := LoadCache(env.Paths)
	if err != nil {
		return nil, err
	}
	if cached == nil || cached.Data == nil {
		return nil, nil
	}

	log := slog.With(slog.String("datasource", cached.Data.Source),
		slog.String("instance_id", cached.Data.InstanceID))

	if cached.BootID != "" && cached.BootID == bootID {
		log.Debug("restored datasource cached during this boot")
		return cached.Data, nil
	}
	if env.Config.Bool("manual_cache_clean", false) {
		log.Debug("restored datasource, manual_cache_clean is set")
		return cached.Data, nil
	}

	src, ok := r.Registry.Lookup(cached.Data.Source)
	if !ok {
		return nil, nil
	}
	checker, ok := src.(InstanceChecker)
	if !ok {
		return nil, nil
	}
	if !checker.CheckInstanceID(ctx, env, cached.Data) {
		log.Info("cached instance id no longer valid")
		return nil, nil
	}

	log.Debug("restored datasource after instance id check")
	return cached.Data, nil
}

// satisfied reports whether the available deps cover every required one.
func satisfied(required, available []Dependency) bool {
	for _, d := range required {
		if !slices.Contains(available, d) {
			return false
		}
	}
	return true
}
