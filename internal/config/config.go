// Package config loads nssync settings from a YAML file with NSSYNC_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hnrobert/nssync/internal/alloc"
	"github.com/hnrobert/nssync/internal/canon"
)

const (
	SourceGoogle = "google"
	SourceFile   = "file"

	// UsernamePlaceholder is replaced in HomeTemplate.
	UsernamePlaceholder = "{username}"
)

type GoogleConfig struct {
	KeyFile     string  `yaml:"key_file"`
	Impersonate string  `yaml:"impersonate"`
	Customer    string  `yaml:"customer"`
	Domain      string  `yaml:"domain"`
	RPS         float64 `yaml:"rps"`
	MaxRetries  int     `yaml:"max_retries"`
}

type SourceConfig struct {
	Kind   string       `yaml:"kind"`
	File   string       `yaml:"file"`
	Google GoogleConfig `yaml:"google"`
}

type ManifestConfig struct {
	// SigningKey enables manifest.jwt (HS256) when set.
	SigningKey string `yaml:"signing_key"`
}

type GCSConfig struct {
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
	KeyFile string `yaml:"key_file"`
}

type DistributeConfig struct {
	GCS GCSConfig `yaml:"gcs"`
}

// AutogenConfig drives autogen-posix, which fills in missing posix accounts
// in the directory.
type AutogenConfig struct {
	StartUID     int  `yaml:"start_uid"`
	StartGID     int  `yaml:"start_gid"`
	GIDEqualsUID bool `yaml:"gid_equals_uid"`
}

type DaemonConfig struct {
	Schedule string `yaml:"schedule"`
	Listen   string `yaml:"listen"`
}

type Config struct {
	OutDir            string      `yaml:"outdir"`
	DB                string      `yaml:"db"`
	LockFile          string      `yaml:"lock_file"`
	GroupRange        alloc.Range `yaml:"group_range"`
	DefaultShell      string      `yaml:"default_shell"`
	HomeTemplate      string      `yaml:"home_template"`
	NameSuffix        string      `yaml:"name_suffix"`
	MaxNameLen        int         `yaml:"max_name_len"`
	UserPrivateGroups bool        `yaml:"user_private_groups"`
	Verbose           bool        `yaml:"verbose"`
	LogDir            string      `yaml:"log_dir"`

	Source     SourceConfig     `yaml:"source"`
	Manifest   ManifestConfig   `yaml:"manifest"`
	Distribute DistributeConfig `yaml:"distribute"`
	Daemon     DaemonConfig     `yaml:"daemon"`
	Autogen    AutogenConfig    `yaml:"autogen"`
}

func Default() Config {
	return Config{
		OutDir:            "/var/lib/extrausers",
		DB:                "/var/lib/nssync/state.db",
		LockFile:          "/run/nssync.lock",
		GroupRange:        alloc.Range{Start: 30000, End: 39999},
		DefaultShell:      "/bin/bash",
		HomeTemplate:      "/home/" + UsernamePlaceholder,
		MaxNameLen:        canon.DefaultMaxLen,
		UserPrivateGroups: true,
		Source: SourceConfig{
			Kind: SourceGoogle,
			Google: GoogleConfig{
				Customer:   "my_customer",
				RPS:        5,
				MaxRetries: 5,
			},
		},
		Daemon: DaemonConfig{
			Schedule: "@every 15m",
			Listen:   "127.0.0.1:9469",
		},
		Autogen: AutogenConfig{
			StartUID:     20000,
			StartGID:     20000,
			GIDEqualsUID: true,
		},
	}
}

// WithDefaults fills empty fields, e.g. keys present but blank in the file.
func (c Config) WithDefaults() Config {
	d := Default()
	if c.OutDir == "" {
		c.OutDir = d.OutDir
	}
	if c.DB == "" {
		c.DB = d.DB
	}
	if c.LockFile == "" {
		c.LockFile = d.LockFile
	}
	if c.GroupRange == (alloc.Range{}) {
		c.GroupRange = d.GroupRange
	}
	if c.DefaultShell == "" {
		c.DefaultShell = d.DefaultShell
	}
	if c.HomeTemplate == "" {
		c.HomeTemplate = d.HomeTemplate
	}
	if c.MaxNameLen <= 0 {
		c.MaxNameLen = d.MaxNameLen
	}
	if c.Source.Kind == "" {
		c.Source.Kind = d.Source.Kind
	}
	if c.Source.Google.Customer == "" && c.Source.Google.Domain == "" {
		c.Source.Google.Customer = d.Source.Google.Customer
	}
	if c.Source.Google.RPS <= 0 {
		c.Source.Google.RPS = d.Source.Google.RPS
	}
	if c.Source.Google.MaxRetries < 0 {
		c.Source.Google.MaxRetries = d.Source.Google.MaxRetries
	}
	if c.Daemon.Schedule == "" {
		c.Daemon.Schedule = d.Daemon.Schedule
	}
	if c.Daemon.Listen == "" {
		c.Daemon.Listen = d.Daemon.Listen
	}
	if c.Autogen.StartUID <= 0 {
		c.Autogen.StartUID = d.Autogen.StartUID
	}
	if c.Autogen.StartGID <= 0 {
		c.Autogen.StartGID = d.Autogen.StartGID
	}
	return c
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg.WithDefaults(), nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := map[string]*string{
		"NSSYNC_OUTDIR":             &c.OutDir,
		"NSSYNC_DB":                 &c.DB,
		"NSSYNC_LOCK_FILE":          &c.LockFile,
		"NSSYNC_DEFAULT_SHELL":      &c.DefaultShell,
		"NSSYNC_HOME_TEMPLATE":      &c.HomeTemplate,
		"NSSYNC_NAME_SUFFIX":        &c.NameSuffix,
		"NSSYNC_LOG_DIR":            &c.LogDir,
		"NSSYNC_SOURCE_KIND":        &c.Source.Kind,
		"NSSYNC_SOURCE_FILE":        &c.Source.File,
		"NSSYNC_GOOGLE_KEY_FILE":    &c.Source.Google.KeyFile,
		"NSSYNC_GOOGLE_IMPERSONATE": &c.Source.Google.Impersonate,
		"NSSYNC_GOOGLE_CUSTOMER":    &c.Source.Google.Customer,
		"NSSYNC_GOOGLE_DOMAIN":      &c.Source.Google.Domain,
		"NSSYNC_MANIFEST_KEY":       &c.Manifest.SigningKey,
		"NSSYNC_GCS_BUCKET":         &c.Distribute.GCS.Bucket,
		"NSSYNC_GCS_PREFIX":         &c.Distribute.GCS.Prefix,
		"NSSYNC_GCS_KEY_FILE":       &c.Distribute.GCS.KeyFile,
		"NSSYNC_SCHEDULE":           &c.Daemon.Schedule,
		"NSSYNC_LISTEN":             &c.Daemon.Listen,
	}
	for k, p := range str {
		if v := getenv(k); v != "" {
			*p = v
		}
	}

	ints := map[string]*int{
		"NSSYNC_GROUP_RANGE_START":  &c.GroupRange.Start,
		"NSSYNC_GROUP_RANGE_END":    &c.GroupRange.End,
		"NSSYNC_MAX_NAME_LEN":       &c.MaxNameLen,
		"NSSYNC_GOOGLE_MAX_RETRIES": &c.Source.Google.MaxRetries,
		"NSSYNC_AUTOGEN_START_UID":  &c.Autogen.StartUID,
		"NSSYNC_AUTOGEN_START_GID":  &c.Autogen.StartGID,
	}
	for k, p := range ints {
		if v := getenv(k); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			*p = n
		}
	}

	if v := getenv("NSSYNC_GOOGLE_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("NSSYNC_GOOGLE_RPS: %w", err)
		}
		c.Source.Google.RPS = f
	}

	bools := map[string]*bool{
		"NSSYNC_USER_PRIVATE_GROUPS":    &c.UserPrivateGroups,
		"NSSYNC_VERBOSE":                &c.Verbose,
		"NSSYNC_AUTOGEN_GID_EQUALS_UID": &c.Autogen.GIDEqualsUID,
	}
	for k, p := range bools {
		if v := getenv(k); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			*p = b
		}
	}
	return nil
}

func (c Config) Validate() error {
	if err := c.GroupRange.Validate(); err != nil {
		return err
	}
	if c.MaxNameLen < canon.MinMaxLen {
		return fmt.Errorf("max_name_len %d is below the minimum of %d", c.MaxNameLen, canon.MinMaxLen)
	}
	if !strings.Contains(c.HomeTemplate, UsernamePlaceholder) {
		return fmt.Errorf("home_template %q must contain %s", c.HomeTemplate, UsernamePlaceholder)
	}
	if !strings.HasPrefix(c.DefaultShell, "/") {
		return fmt.Errorf("default_shell %q must be an absolute path", c.DefaultShell)
	}
	switch c.Source.Kind {
	case SourceFile:
		if c.Source.File == "" {
			return errors.New("source.file is required for the file source")
		}
	case SourceGoogle:
		if c.Source.Google.KeyFile == "" {
			return errors.New("source.google.key_file is required for the google source")
		}
		if c.Source.Google.Impersonate == "" {
			return errors.New("source.google.impersonate is required for the google source")
		}
	default:
		return fmt.Errorf("unknown source kind %q", c.Source.Kind)
	}
	return nil
}

// Canon returns the canonicalizer options.
func (c Config) Canon() canon.Options {
	return canon.Options{MaxLen: c.MaxNameLen, Suffix: c.NameSuffix}
}
