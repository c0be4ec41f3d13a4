package backend

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/Paintersrp/minicars/internal/config"
)

// Source names the candidate list a backend directory was found in.
type Source string

const (
	SourceEnv        Source = "env"
	SourceResources  Source = "resources"
	SourceBuild      Source = "build"
	SourceExecutable Source = "executable"
)

// Location is the outcome of a successful resolution. Interpreter is filled in
// once an interpreter has been located.
type Location struct {
	Dir         string `json:"dir"`
	Source      Source `json:"source"`
	Interpreter string `json:"interpreter,omitempty"`
}

// PathResolver finds the backend's source directory. It holds no state
// between calls; every Resolve re-reads the environment and filesystem.
type PathResolver struct {
	Mode        config.Mode
	OverrideEnv string
	Markers     []string
	// ResourceDir returns the host shell's packaged resource directory, if it
	// has one.
	ResourceDir func() (string, bool)
	// BuildRoot is the source checkout root used in development mode.
	BuildRoot string

	Fs         afero.Fs
	Getenv     func(string) string
	Getwd      func() (string, error)
	Executable func() (string, error)
	Logger     *zap.Logger
}

type candidate struct {
	source Source
	dir    string
}

// NewPathResolver builds a resolver over the OS filesystem from cfg.
func NewPathResolver(cfg *config.Config) *PathResolver {
	resources := cfg.Paths.Resources
	buildRoot := cfg.Paths.BuildRoot
	if buildRoot == "" {
		buildRoot = DefaultBuildRoot()
	}
	return &PathResolver{
		Mode:        cfg.Mode,
		OverrideEnv: cfg.Backend.OverrideEnv,
		Markers:     append([]string(nil), cfg.Backend.Markers...),
		ResourceDir: func() (string, bool) {
			return resources, resources != ""
		},
		BuildRoot:  buildRoot,
		Fs:         afero.NewOsFs(),
		Getenv:     os.Getenv,
		Getwd:      os.Getwd,
		Executable: os.Executable,
		Logger:     zap.NewNop(),
	}
}

// DefaultBuildRoot returns the module root this binary was compiled from.
func DefaultBuildRoot() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return ""
	}
	return filepath.Dir(filepath.Dir(filepath.Dir(file)))
}

// Resolve returns the first candidate directory that exists and contains every
// marker. The error, if any, is a KindDirectoryNotFound *Error listing every
// path examined.
func (r *PathResolver) Resolve() (Location, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var tried []string
	for _, c := range r.candidates() {
		tried = append(tried, c.dir)
		if reason := r.reject(c.dir); reason != "" {
			logger.Debug("backend candidate rejected",
				zap.String("source", string(c.source)),
				zap.String("dir", c.dir),
				zap.String("reason", reason))
			continue
		}
		logger.Debug("backend directory resolved",
			zap.String("source", string(c.source)),
			zap.String("dir", c.dir))
		return Location{Dir: c.dir, Source: c.source}, nil
	}
	return Location{}, &Error{Kind: KindDirectoryNotFound, TriedPaths: tried}
}

func (r *PathResolver) candidates() []candidate {
	var out []candidate
	seen := make(map[string]struct{})
	add := func(source Source, dir string) {
		if strings.TrimSpace(dir) == "" {
			return
		}
		dir = absPath(dir)
		if _, dup := seen[dir]; dup {
			return
		}
		seen[dir] = struct{}{}
		out = append(out, candidate{source: source, dir: dir})
	}

	if r.OverrideEnv != "" && r.Getenv != nil {
		add(SourceEnv, r.Getenv(r.OverrideEnv))
	}

	switch r.Mode {
	case config.ModeDevelopment:
		if r.BuildRoot != "" {
			add(SourceBuild, filepath.Join(r.BuildRoot, "backend"))
		}
		if r.Getwd != nil {
			if cwd, err := r.Getwd(); err == nil {
				add(SourceBuild, filepath.Join(cwd, "backend"))
				add(SourceBuild, filepath.Join(cwd, "..", "backend"))
			}
		}
	default:
		if r.ResourceDir != nil {
			if res, ok := r.ResourceDir(); ok {
				add(SourceResources, filepath.Join(res, "backend"))
			}
		}
		if r.Executable != nil {
			if exe, err := r.Executable(); err == nil {
				exeDir := filepath.Dir(exe)
				add(SourceExecutable, filepath.Join(exeDir, "backend"))
				add(SourceExecutable, filepath.Join(exeDir, "resources", "backend"))
				add(SourceExecutable, filepath.Join(exeDir, "..", "backend"))
				add(SourceExecutable, filepath.Join(exeDir, "..", "..", "backend"))
			}
		}
	}
	return out
}

func (r *PathResolver) reject(dir string) string {
	fs := r.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	ok, err := afero.DirExists(fs, dir)
	if err != nil {
		return err.Error()
	}
	if !ok {
		return "not a directory"
	}
	for _, marker := range r.Markers {
		path := filepath.Join(dir, filepath.FromSlash(marker))
		exists, err := afero.Exists(fs, path)
		if err != nil {
			return err.Error()
		}
		if !exists {
			return "missing " + marker
		}
	}
	return ""
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
