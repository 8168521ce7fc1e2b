package config

import (
	"fmt"
	"regexp"
)

// State backends supported by the builder.
const (
	StateBackendFile     = "file"
	StateBackendPostgres = "postgres"
	StateBackendRedis    = "redis"
)

// environmentNameRegex keeps environment and tag names usable as file names and Redis keys.
var environmentNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// BuildConfig controls what a build compiles and where its state and output go.
type BuildConfig struct {
	DefinitionsDir string   `envconfig:"DEFINITIONS_DIR" default:"./definitions"`
	Environments   []string `envconfig:"ENVIRONMENTS" default:"staging,production" validate:"min=1"`
	Tags           []string `envconfig:"TAGS" default:"all" validate:"min=1"`
	StateBackend   string   `envconfig:"STATE_BACKEND" default:"file" validate:"oneof=file postgres redis"`
	StateDir       string   `envconfig:"STATE_DIR" default:"./.bifrost/state"`
	OutputDir      string   `envconfig:"OUTPUT_DIR" default:"./dist"`
	Concurrency    int      `envconfig:"CONCURRENCY" default:"8" validate:"min=1,max=256"`

	// Publish pushes every datafile to Redis after a successful build.
	Publish bool `envconfig:"PUBLISH" default:"false"`
}

// Validate checks names and paths that struct tags cannot express.
func (c *BuildConfig) Validate() error {
	if err := validateNoWhitespace(c.DefinitionsDir, "definitions dir"); err != nil {
		return err
	}
	if err := validateNoWhitespace(c.OutputDir, "output dir"); err != nil {
		return err
	}
	if c.StateBackend == StateBackendFile {
		if err := validateNoWhitespace(c.StateDir, "state dir"); err != nil {
			return err
		}
	}

	if err := validateNames(c.Environments, "environment"); err != nil {
		return err
	}
	if err := validateNames(c.Tags, "tag"); err != nil {
		return err
	}

	return nil
}

// NeedsDatabase reports whether the build state lives in PostgreSQL.
func (c *BuildConfig) NeedsDatabase() bool {
	return c.StateBackend == StateBackendPostgres
}

// NeedsRedis reports whether the build reads state from or publishes to Redis.
func (c *BuildConfig) NeedsRedis() bool {
	return c.StateBackend == StateBackendRedis || c.Publish
}

// validateNames enforces the slug format and uniqueness of a list of names.
func validateNames(names []string, kind string) error {
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if !environmentNameRegex.MatchString(name) {
			return fmt.Errorf("%s name %q must be lowercase letters, numbers, '-' or '_'", kind, name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%s %q is listed more than once", kind, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}
