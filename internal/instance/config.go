package instance

import (
	"github.com/born-ml/weaver/internal/config"
	"github.com/born-ml/weaver/internal/module"
)

// OptionsFromConfig maps an instance block to options.
func OptionsFromConfig(cfg *config.Instance) ([]Option, error) {
	var opts []Option
	if cfg.IsolatedState {
		opts = append(opts, WithIsolatedState())
	}
	if cfg.Optimizer != nil {
		o, err := cfg.Optimizer.New()
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithOptimizer(o))
	}
	return opts, nil
}

// FromConfig binds m using the named instance block of f and the file's
// log level.
func FromConfig(m *module.Module, f *config.File, name string) (*GraphInstance, error) {
	cfg, err := f.Instance(name)
	if err != nil {
		return nil, err
	}
	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	logger, err := f.Logger()
	if err != nil {
		return nil, err
	}
	return New(m, append([]Option{WithLogger(logger)}, opts...)...), nil
}
