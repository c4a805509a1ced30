package hcl

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/measgrid/internal/config"
	"github.com/vk/measgrid/internal/ctxlog"
	"github.com/vk/measgrid/internal/fsutil"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// FileExtension is the extension of measure files.
const FileExtension = ".hcl"

// Loader is the HCL implementation of config.Loader.
type Loader struct {
	evalCtx *hcl.EvalContext
}

var _ config.Loader = (*Loader)(nil)

// NewLoader creates a loader. Attribute expressions may call a small set of
// functions but cannot reference variables.
func NewLoader() *Loader {
	return &Loader{
		evalCtx: &hcl.EvalContext{
			Functions: map[string]function.Function{
				"concat": stdlib.ConcatFunc,
				"format": stdlib.FormatFunc,
				"lower":  stdlib.LowerFunc,
				"max":    stdlib.MaxFunc,
				"min":    stdlib.MinFunc,
				"range":  stdlib.RangeFunc,
				"upper":  stdlib.UpperFunc,
			},
		},
	}
}

// Load resolves every path into .hcl files and merges them into one model.
// Measure and profile names must be unique across all files.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	model := config.NewModel()
	seen := make(map[string]string)
	parser := hclparse.NewParser()

	for _, path := range paths {
		logger.Debug("Resolving configuration path.", "path", path)
		files, err := fsutil.ResolvePath(path, FileExtension)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			decoded, err := l.decodeFile(ctx, parser, file)
			if err != nil {
				return nil, err
			}
			for _, mb := range decoded.Measures {
				if prev, dup := seen[mb.Name]; dup {
					return nil, fmt.Errorf("measure %q defined in both %s and %s", mb.Name, prev, file)
				}
				seen[mb.Name] = file
				m, err := l.translateMeasure(mb)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", file, err)
				}
				model.Measures = append(model.Measures, m)
			}
			for _, pb := range decoded.Profiles {
				if prev, dup := model.Profiles[pb.Name]; dup {
					return nil, fmt.Errorf("profile %q defined in both %s and %s", pb.Name, prev.Source, file)
				}
				p, err := l.translateProfile(pb, file)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", file, err)
				}
				model.Profiles[p.Name] = p
			}
		}
	}

	logger.Debug("Configuration loaded.", "measures", len(model.Measures), "profiles", len(model.Profiles))
	return model, nil
}

// decodeFile parses and decodes a single HCL file.
func (l *Loader) decodeFile(ctx context.Context, parser *hclparse.Parser, filePath string) (*fileBlock, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Decoding measure file.", "path", filePath)

	file, diags := parser.ParseHCLFile(filePath)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %s", filePath, diags.Error())
	}

	var decoded fileBlock
	diags = gohcl.DecodeBody(file.Body, l.evalCtx, &decoded)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %s", filePath, diags.Error())
	}

	logger.Debug("Successfully decoded measure file.", "path", filePath, "measures_found", len(decoded.Measures), "profiles_found", len(decoded.Profiles))
	return &decoded, nil
}
