// Package config loads instance configuration from HCL files.
//
// A configuration file looks like:
//
//	log_level = "debug"
//
//	instance "trainer" {
//	  isolated_state = true
//	  optimizer "sgd" {
//	    learning_rate = var.lr
//	    momentum      = 0.9
//	  }
//	}
//
// Expressions may reference caller-supplied values through the "var" object.
package config

import (
	"errors"
	"fmt"

	"github.com/born-ml/weaver/internal/optim"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// ErrUnknownInstance is returned when a named instance block is absent.
	ErrUnknownInstance = errors.New("config: unknown instance")

	// ErrInvalid is returned for configuration that decodes but makes no sense.
	ErrInvalid = errors.New("config: invalid configuration")
)

// Optimizer kinds.
const (
	OptimizerSGD  = "sgd"
	OptimizerAdam = "adam"
)

// File is a decoded configuration file.
type File struct {
	LogLevel  string      `hcl:"log_level,optional"`
	Instances []*Instance `hcl:"instance,block"`
}

// Instance configures one module binding.
type Instance struct {
	Name          string     `hcl:"name,label"`
	IsolatedState bool       `hcl:"isolated_state,optional"`
	Optimizer     *Optimizer `hcl:"optimizer,block"`
}

// Optimizer configures the optimizer applied after training steps.
// Zero values take the optimizer's defaults.
type Optimizer struct {
	Kind         string  `hcl:"kind,label"`
	LearningRate float64 `hcl:"learning_rate,optional"`
	Momentum     float64 `hcl:"momentum,optional"`
	Beta1        float64 `hcl:"beta1,optional"`
	Beta2        float64 `hcl:"beta2,optional"`
	Epsilon      float64 `hcl:"epsilon,optional"`
}

// Parse decodes HCL source. vars become the "var" object in expressions.
func Parse(src []byte, filename string, vars map[string]cty.Value) (*File, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	return decode(f, filename, vars)
}

// Load reads and decodes an HCL file.
func Load(path string, vars map[string]cty.Value) (*File, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
	}
	return decode(f, path, vars)
}

func decode(f *hcl.File, filename string, vars map[string]cty.Value) (*File, error) {
	varObj := cty.EmptyObjectVal
	if len(vars) > 0 {
		varObj = cty.ObjectVal(vars)
	}
	ctx := &hcl.EvalContext{Variables: map[string]cty.Value{"var": varObj}}

	var file File
	if diags := gohcl.DecodeBody(f.Body, ctx, &file); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}
	if err := file.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return &file, nil
}

func (f *File) validate() error {
	if f.LogLevel != "" {
		if _, err := zapcore.ParseLevel(f.LogLevel); err != nil {
			return fmt.Errorf("%w: log_level: %w", ErrInvalid, err)
		}
	}
	seen := make(map[string]bool, len(f.Instances))
	for _, inst := range f.Instances {
		if seen[inst.Name] {
			return fmt.Errorf("%w: duplicate instance %q", ErrInvalid, inst.Name)
		}
		seen[inst.Name] = true
		if inst.Optimizer != nil {
			if err := inst.Optimizer.validate(); err != nil {
				return fmt.Errorf("instance %q: %w", inst.Name, err)
			}
		}
	}
	return nil
}

func (o *Optimizer) validate() error {
	switch o.Kind {
	case OptimizerSGD, OptimizerAdam:
	default:
		return fmt.Errorf("%w: unknown optimizer %q", ErrInvalid, o.Kind)
	}
	if o.LearningRate < 0 {
		return fmt.Errorf("%w: negative learning_rate", ErrInvalid)
	}
	if o.Momentum < 0 || o.Momentum >= 1 {
		return fmt.Errorf("%w: momentum must be in [0, 1)", ErrInvalid)
	}
	return nil
}

// Instance returns the instance block with the given name.
func (f *File) Instance(name string) (*Instance, error) {
	for _, inst := range f.Instances {
		if inst.Name == name {
			return inst, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownInstance, name)
}

// Logger builds a logger at the configured level. Without a level it
// returns a no-op logger.
func (f *File) Logger() (*zap.Logger, error) {
	if f.LogLevel == "" {
		return zap.NewNop(), nil
	}
	lvl, err := zapcore.ParseLevel(f.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: log_level: %w", ErrInvalid, err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// New creates the configured optimizer.
func (o *Optimizer) New() (optim.Optimizer, error) {
	switch o.Kind {
	case OptimizerSGD:
		return optim.NewSGD(optim.SGDConfig{LR: o.LearningRate, Momentum: o.Momentum}), nil
	case OptimizerAdam:
		return optim.NewAdam(optim.AdamConfig{
			LR:    o.LearningRate,
			Betas: [2]float64{o.Beta1, o.Beta2},
			Eps:   o.Epsilon,
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown optimizer %q", ErrInvalid, o.Kind)
	}
}
