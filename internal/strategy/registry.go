package strategy

import "fmt"

// Factory builds a strategy instance from its configuration.
type Factory func(cfg Config) (Strategy, error)

var registry = map[string]Factory{}

// Register adds a strategy type to the registry. Called from init funcs;
// duplicate registration panics.
func Register(typ string, f Factory) {
	if _, ok := registry[typ]; ok {
		panic(fmt.Sprintf("strategy type %q registered twice", typ))
	}
	registry[typ] = f
}

// Build instantiates a strategy from its configuration.
func Build(cfg Config) (Strategy, error) {
	f, ok := registry[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown strategy type %q", cfg.Type)
	}
	return f(cfg)
}

// BuildAll instantiates every active strategy in the list.
func BuildAll(cfgs []Config) ([]Strategy, error) {
	var out []Strategy
	for _, cfg := range cfgs {
		if !cfg.IsActive {
			continue
		}
		s, err := Build(cfg)
		if err != nil {
			return nil, fmt.Errorf("build strategy %s: %w", cfg.ID, err)
		}
		out = append(out, s)
	}
	return out, nil
}
