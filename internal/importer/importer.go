// Package importer loads feature files from a working directory into the
// staging area. Files live at <namespace>/<category>/<id>.json.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/denormal/go-gitignore"
	"go.uber.org/zap"

	"geotig/internal/errors"
	"geotig/internal/logging"
	"geotig/internal/object"
	"geotig/internal/staging"
)

const IgnoreFile = ".geoignore"

var defaultIgnorePatterns = []string{".geotig/", ".git/", IgnoreFile}

// FeatureFile is the on-disk form of a feature.
type FeatureFile struct {
	CRS        string         `json:"crs"`
	BBox       []float64      `json:"bbox,omitempty"`
	Geometry   string         `json:"geometry"`
	Properties map[string]any `json:"properties,omitempty"`
}

type Importer struct {
	root   string
	area   *staging.Area
	codec  object.Codec
	ignore gitignore.GitIgnore
	logger *zap.Logger
}

func New(root string, area *staging.Area, codec object.Codec, logger *zap.Logger) (*Importer, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path for %s: %w", root, err)
	}
	if codec == nil {
		codec = object.DefaultCodec()
	}
	return &Importer{
		root:   abs,
		area:   area,
		codec:  codec,
		ignore: loadIgnore(abs),
		logger: logging.OrNop(logger),
	}, nil
}

func loadIgnore(root string) gitignore.GitIgnore {
	patterns := append([]string(nil), defaultIgnorePatterns...)
	if content, err := os.ReadFile(filepath.Join(root, IgnoreFile)); err == nil {
		for _, line := range strings.Split(string(content), "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "#") {
				patterns = append(patterns, line)
			}
		}
	}
	return gitignore.New(
		strings.NewReader(strings.Join(patterns, "\n")),
		root,
		func(gitignore.Error) bool { return true },
	)
}

// Ignored reports whether rel (relative to the root) is excluded.
func (im *Importer) Ignored(rel string, isDir bool) bool {
	if im.ignore == nil {
		return false
	}
	m := im.ignore.Relative(filepath.ToSlash(rel), isDir)
	return m != nil && m.Ignore()
}

// PathFor maps a relative file name to its tree path.
func PathFor(rel string) ([]string, error) {
	rel = filepath.ToSlash(rel)
	if !strings.EqualFold(filepath.Ext(rel), ".json") {
		return nil, errors.ValidationError(fmt.Sprintf("%s is not a .json feature file", rel), nil)
	}
	parts := strings.Split(strings.TrimSuffix(rel, filepath.Ext(rel)), "/")
	if len(parts) != 3 {
		return nil, errors.ValidationError(fmt.Sprintf("%s is not at <namespace>/<category>/<id>.json", rel), nil)
	}
	for _, p := range parts {
		if p == "" {
			return nil, errors.ValidationError(fmt.Sprintf("%s has an empty path segment", rel), nil)
		}
	}
	return parts, nil
}

// ParseFeature decodes a feature file. Properties are flattened to strings;
// non-string values keep their JSON text.
func ParseFeature(data []byte) (*object.Feature, *object.BoundingBox, error) {
	var ff FeatureFile
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, nil, errors.ValidationError("invalid feature file", err.Error())
	}

	f := &object.Feature{Geometry: ff.Geometry}
	if len(ff.Properties) > 0 {
		f.Properties = make(map[string]string, len(ff.Properties))
		for k, v := range ff.Properties {
			if s, ok := v.(string); ok {
				f.Properties[k] = s
				continue
			}
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, nil, fmt.Errorf("property %s: %w", k, err)
			}
			f.Properties[k] = string(raw)
		}
	}

	var bounds *object.BoundingBox
	switch len(ff.BBox) {
	case 0:
	case 4:
		bounds = object.NewBoundingBox(ff.CRS, ff.BBox[0], ff.BBox[1], ff.BBox[2], ff.BBox[3])
	default:
		return nil, nil, errors.ValidationError(fmt.Sprintf("bbox needs 4 numbers, got %d", len(ff.BBox)), nil)
	}
	return f, bounds, nil
}

// Scan lists the feature files under the root, relative and slash
// separated, in lexical order.
func (im *Importer) Scan() ([]string, error) {
	var files []string
	err := filepath.WalkDir(im.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(im.root, path)
		if err != nil || rel == "." {
			return nil
		}
		if im.Ignored(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if _, err := PathFor(rel); err != nil {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	return files, err
}

func (im *Importer) insertion(rel string) (staging.Insertion, error) {
	path, err := PathFor(rel)
	if err != nil {
		return staging.Insertion{}, err
	}
	data, err := os.ReadFile(filepath.Join(im.root, filepath.FromSlash(rel)))
	if err != nil {
		return staging.Insertion{}, err
	}
	f, bounds, err := ParseFeature(data)
	if err != nil {
		return staging.Insertion{}, fmt.Errorf("%s: %w", rel, err)
	}
	payload, err := im.codec.Marshal(f)
	if err != nil {
		return staging.Insertion{}, fmt.Errorf("encoding %s: %w", rel, err)
	}
	return staging.Insertion{Data: payload, Bounds: bounds, Path: path}, nil
}

// Import records every feature file as an unstaged insert. A canceled
// context yields an empty result.
func (im *Importer) Import(ctx context.Context, progress func(float64)) ([]object.Entry, error) {
	files, err := im.Scan()
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", im.root, err)
	}

	var readErr error
	seq := iter.Seq[staging.Insertion](func(yield func(staging.Insertion) bool) {
		for _, rel := range files {
			ins, err := im.insertion(rel)
			if err != nil {
				readErr = err
				return
			}
			if !yield(ins) {
				return
			}
		}
	})

	entries, err := im.area.InsertAll(ctx, seq, len(files), progress)
	if err != nil {
		return nil, err
	}
	if readErr != nil {
		return nil, readErr
	}
	im.logger.Info("Imported features", zap.Int("count", len(entries)), zap.String("root", im.root))
	return entries, nil
}
