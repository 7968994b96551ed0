// cmd/geotig/main.go
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"geotig/internal/diff"
	"geotig/internal/object"
	"geotig/internal/repository"
	"geotig/shared/utils"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	repoDir string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "geotig",
	Short: "geotig is a versioned store for geographic features",
	Long: `geotig keeps geographic features in content-addressed trees, so that
layers of millions of features can be staged, committed and compared cheaply.`,
	SilenceUsage: true,
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	return logger, nil
}

func workDir() (string, error) {
	if repoDir != "" {
		return repoDir, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current directory: %w", err)
	}
	return cwd, nil
}

// openRepo opens the repository enclosing the working directory.
func openRepo() (*repository.Repository, error) {
	dir, err := workDir()
	if err != nil {
		return nil, err
	}
	root, err := repository.Find(dir)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}
	repo, err := repository.Open(root, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	return repo, nil
}

func splitArg(arg string) []string {
	return utils.SplitPath(filepath.ToSlash(arg))
}

var (
	addColor    = color.New(color.FgGreen)
	modifyColor = color.New(color.FgYellow)
	deleteColor = color.New(color.FgRed)
	headerColor = color.New(color.FgCyan)
	idColor     = color.New(color.FgBlue)
)

func printChange(w io.Writer, c diff.Change) {
	var tag string
	var col *color.Color
	switch c.Type {
	case diff.Add:
		tag, col = "A", addColor
	case diff.Modify:
		tag, col = "M", modifyColor
	default:
		tag, col = "D", deleteColor
	}
	line := fmt.Sprintf("%s  %s", tag, c.Key())
	if c.Bounds != nil && !c.Bounds.IsEmpty() {
		line += "  " + c.Bounds.String()
	}
	col.Fprintln(w, line)
}

func printColoredDiff(w io.Writer, patch string) {
	for _, line := range strings.Split(strings.TrimSuffix(patch, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			headerColor.Fprintln(w, line)
		case strings.HasPrefix(line, "+"):
			addColor.Fprintln(w, line)
		case strings.HasPrefix(line, "-"):
			deleteColor.Fprintln(w, line)
		default:
			fmt.Fprintln(w, line)
		}
	}
}

func shortID(id object.ContentId) string {
	if id.IsNull() {
		return "(none)"
	}
	return id.Short()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
