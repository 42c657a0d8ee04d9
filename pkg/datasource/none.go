package datasource

import "context"

// NoneInstanceID is the instance id reported by the None datasource.
const NoneInstanceID = "iid-datasource-none"

// None is the fallback used when no real datasource is found. It provides
// no user-data, so only system configuration applies. None never confirms a
// cached instance id, so a later boot resolves the datasource list again.
type None struct{}

func (*None) Name() string { return NoneName }

func (*None) Dependencies() []Dependency { return NetworkDeps }

func (*None) Detect(context.Context, *Env) bool { return true }

func (*None) Crawl(_ context.Context, env *Env) (*Data, error) {
	data := &Data{
		Source:        NoneName,
		InstanceID:    NoneInstanceID,
		LocalHostname: "localhost",
		Platform:      "none",
		MetaData:      map[string]any{"instance-id": NoneInstanceID},
	}
	if env != nil {
		cfg := env.SourceConfig(NoneName)
		if ud := cfg.String("userdata_raw", ""); ud != "" {
			data.UserData = []byte(ud)
		}
		if md := cfg.Map("metadata"); len(md) > 0 {
			for k, v := range md {
				data.MetaData[k] = v
			}
		}
	}
	return data, nil
}
