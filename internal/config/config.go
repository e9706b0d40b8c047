// Package config holds the settings of the anvil CLI: how to reach the
// libvirt host, which storage pools to use and how to reach the object
// store for s3:// documents.
//
// Settings are layered: built-in defaults, then an optional YAML file,
// then ANVIL_* environment variables. Command-line flags are applied last
// by the CLI itself.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/anvil/internal/libvirt"
	"github.com/jbweber/anvil/internal/source"
	"github.com/jbweber/anvil/internal/storage"
)

// Settings is the complete CLI configuration.
type Settings struct {
	Socket  string        `yaml:"socket"`
	Timeout time.Duration `yaml:"timeout"`
	Pools   PoolSettings  `yaml:"pools"`
	S3      S3Settings    `yaml:"s3"`

	// Parallel is the default number of set entries built at once.
	Parallel int `yaml:"parallel"`
	// Verbosity is the log level; -v on the command line adds to it.
	Verbosity int `yaml:"verbosity"`
}

// PoolSettings names the libvirt storage pools and their directories.
type PoolSettings struct {
	Media     string `yaml:"media"`
	MediaPath string `yaml:"media_path"`
	VMs       string `yaml:"vms"`
	VMsPath   string `yaml:"vms_path"`
}

// S3Settings configure the object store used for s3:// documents. Empty
// credentials use the default AWS credential chain.
type S3Settings struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PathStyle bool   `yaml:"path_style"`
}

// Default returns the built-in settings.
func Default() *Settings {
	return &Settings{
		Socket:  libvirt.DefaultSocket,
		Timeout: libvirt.DefaultTimeout,
		Pools: PoolSettings{
			Media:     storage.DefaultMediaPool,
			MediaPath: storage.DefaultMediaPath,
			VMs:       storage.DefaultVMsPool,
			VMsPath:   storage.DefaultVMsPath,
		},
		Parallel: 1,
	}
}

// DefaultPath returns the config file looked up when none is given:
// $XDG_CONFIG_HOME/anvil/config.yaml, or ~/.config/anvil/config.yaml.
// It returns "" when neither variable is set.
func DefaultPath(env map[string]string) string {
	if dir := env["XDG_CONFIG_HOME"]; dir != "" {
		return filepath.Join(dir, "anvil", "config.yaml")
	}
	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "anvil", "config.yaml")
	}
	return ""
}

// Load returns the defaults overlaid with the config file and env.
//
// An explicit path must exist. With an empty path the default location is
// used if a file is there. The result is not validated, so that flags can
// still be applied; call Validate afterwards.
func Load(path string, env map[string]string) (*Settings, error) {
	s := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath(env)
	}
	if path != "" {
		err := s.mergeFile(path)
		switch {
		case err == nil:
		case !explicit && errors.Is(err, fs.ErrNotExist):
		default:
			return nil, err
		}
	}

	if err := s.ApplyEnv(env); err != nil {
		return nil, err
	}
	return s, nil
}

// mergeFile decodes the YAML file at path over s. Unknown keys are
// rejected.
func (s *Settings) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays the ANVIL_* variables set in env.
func (s *Settings) ApplyEnv(env map[string]string) error {
	strs := map[string]*string{
		"ANVIL_SOCKET":        &s.Socket,
		"ANVIL_MEDIA_POOL":    &s.Pools.Media,
		"ANVIL_MEDIA_PATH":    &s.Pools.MediaPath,
		"ANVIL_VMS_POOL":      &s.Pools.VMs,
		"ANVIL_VMS_PATH":      &s.Pools.VMsPath,
		"ANVIL_S3_ENDPOINT":   &s.S3.Endpoint,
		"ANVIL_S3_REGION":     &s.S3.Region,
		"ANVIL_S3_ACCESS_KEY": &s.S3.AccessKey,
		"ANVIL_S3_SECRET_KEY": &s.S3.SecretKey,
	}
	for name, field := range strs {
		if v, ok := env[name]; ok && v != "" {
			*field = v
		}
	}

	if v := env["ANVIL_TIMEOUT"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid ANVIL_TIMEOUT %q: %w", v, err)
		}
		s.Timeout = d
	}
	if v := env["ANVIL_PARALLEL"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ANVIL_PARALLEL %q: %w", v, err)
		}
		s.Parallel = n
	}
	if v := env["ANVIL_S3_PATH_STYLE"]; v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid ANVIL_S3_PATH_STYLE %q: %w", v, err)
		}
		s.S3.PathStyle = b
	}
	return nil
}

// Validate checks the settings for errors. It does not contact libvirt or
// the object store.
func (s *Settings) Validate() error {
	if s.Socket == "" {
		return fmt.Errorf("socket is required")
	}
	if !filepath.IsAbs(s.Socket) {
		return fmt.Errorf("socket must be an absolute path, got %q", s.Socket)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0, got %s", s.Timeout)
	}
	if s.Parallel < 1 {
		return fmt.Errorf("parallel must be >= 1, got %d", s.Parallel)
	}
	if s.Verbosity < 0 {
		return fmt.Errorf("verbosity must be >= 0, got %d", s.Verbosity)
	}

	if err := s.Pools.Validate(); err != nil {
		return fmt.Errorf("pools: %w", err)
	}

	if s.S3.Endpoint != "" {
		u, err := url.Parse(s.S3.Endpoint)
		if err != nil {
			return fmt.Errorf("s3.endpoint: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("s3.endpoint must be an http(s) URL, got %q", s.S3.Endpoint)
		}
	}
	if (s.S3.AccessKey == "") != (s.S3.SecretKey == "") {
		return fmt.Errorf("s3.access_key and s3.secret_key must be set together")
	}
	return nil
}

// Validate checks the pool layout.
func (p *PoolSettings) Validate() error {
	if p.Media == "" || p.VMs == "" {
		return fmt.Errorf("media and vms pool names are required")
	}
	if p.Media == p.VMs {
		return fmt.Errorf("media and vms pools must differ, both are %q", p.Media)
	}
	for name, path := range map[string]string{"media_path": p.MediaPath, "vms_path": p.VMsPath} {
		if !filepath.IsAbs(path) {
			return fmt.Errorf("%s must be an absolute path, got %q", name, path)
		}
	}
	if filepath.Clean(p.MediaPath) == filepath.Clean(p.VMsPath) {
		return fmt.Errorf("media and vms pools must use different directories")
	}
	return nil
}

// StoragePools returns the pool layout for the storage package.
func (s *Settings) StoragePools() storage.Pools {
	return storage.Pools{
		Media:     s.Pools.Media,
		MediaPath: s.Pools.MediaPath,
		VMs:       s.Pools.VMs,
		VMsPath:   s.Pools.VMsPath,
	}
}

// S3Options returns the object store options for the source package.
func (s *Settings) S3Options() source.S3Options {
	return source.S3Options{
		Endpoint:     s.S3.Endpoint,
		Region:       s.S3.Region,
		AccessKey:    s.S3.AccessKey,
		SecretKey:    s.S3.SecretKey,
		UsePathStyle: s.S3.PathStyle,
	}
}
