// Package config handles ilgen.toml project configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"

	"github.com/chazu/ilgen/metadata"
	"github.com/chazu/ilgen/translate"
)

// FileName is the name of the configuration file.
const FileName = "ilgen.toml"

// Config represents an ilgen.toml project configuration.
type Config struct {
	Project   Project   `toml:"project"`
	Translate Translate `toml:"translate"`
	Registry  Registry  `toml:"registry"`
	Archive   Archive   `toml:"archive"`
	Log       Log       `toml:"log"`

	// Dir is the directory containing the ilgen.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name  string `toml:"name"`
	Image string `toml:"image"` // image file, relative to Dir
}

// Translate configures the translator and object layout.
// A zero pointer size or IMT size keeps the value recorded in the image.
type Translate struct {
	PointerSize        int  `toml:"pointer-size"`
	ImplicitNullChecks bool `toml:"implicit-null-checks"`
	UncheckedBounds    bool `toml:"unchecked-bounds"`
	IMTSize            int  `toml:"imt-size"`
}

// Registry configures batch translation.
type Registry struct {
	Workers int `toml:"workers"` // 0 means one per CPU
}

// Archive configures the IR archive.
type Archive struct {
	Path string `toml:"path"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no ilgen.toml exists.
func Default(dir string) *Config {
	c := &Config{Dir: dir}
	c.defaults()
	return c
}

func (c *Config) defaults() {
	if c.Archive.Path == "" {
		c.Archive.Path = filepath.Join(".ilgen", "archive.db")
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs *multierror.Error
	if p := c.Translate.PointerSize; p != 0 && p != 4 && p != 8 {
		errs = multierror.Append(errs, fmt.Errorf("translate.pointer-size must be 4 or 8, got %d", p))
	}
	if c.Translate.IMTSize < 0 {
		errs = multierror.Append(errs, fmt.Errorf("translate.imt-size must not be negative, got %d", c.Translate.IMTSize))
	}
	if c.Registry.Workers < 0 {
		errs = multierror.Append(errs, fmt.Errorf("registry.workers must not be negative, got %d", c.Registry.Workers))
	}
	if c.Log.Verbosity < 0 {
		errs = multierror.Append(errs, errors.New("log.verbosity must not be negative"))
	}
	return errs.ErrorOrNil()
}

// Load parses an ilgen.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	c.defaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find an ilgen.toml file,
// then loads and returns the config. Returns nil if no config is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Write stores c as dir/ilgen.toml. An existing file is left alone.
func Write(dir string, c *Config) error {
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return f.Close()
}

// Options returns the translator options.
func (c *Config) Options() translate.Options {
	return translate.Options{
		ImplicitNullChecks: c.Translate.ImplicitNullChecks,
		UncheckedBounds:    c.Translate.UncheckedBounds,
	}
}

// Apply overrides the layout parameters of img that the config sets. It
// must run before the first layout query on img.
func (c *Config) Apply(img *metadata.Image) {
	if c.Translate.PointerSize != 0 {
		img.WordSize = c.Translate.PointerSize
	}
	if c.Translate.IMTSize != 0 {
		img.IMTSize = c.Translate.IMTSize
	}
}

// resolve makes p absolute relative to Dir.
func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// ImagePath returns the absolute path of the project image, or "".
func (c *Config) ImagePath() string { return c.resolve(c.Project.Image) }

// ArchivePath returns the absolute path of the archive database.
func (c *Config) ArchivePath() string { return c.resolve(c.Archive.Path) }

// LogFile returns the log file for commonlog.Configure, nil for stderr.
func (c *Config) LogFile() *string {
	if c.Log.File == "" {
		return nil
	}
	path := c.resolve(c.Log.File)
	return &path
}
