package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildConfig_Validation(t *testing.T) {
	runLoadCases(t, []loadCase{
		{
			name:    "Should apply build defaults",
			envVars: map[string]string{},
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "./definitions", cfg.Build.DefinitionsDir)
				assert.Equal(t, []string{"staging", "production"}, cfg.Build.Environments)
				assert.Equal(t, []string{"all"}, cfg.Build.Tags)
				assert.Equal(t, "./.bifrost/state", cfg.Build.StateDir)
				assert.Equal(t, "./dist", cfg.Build.OutputDir)
				assert.Equal(t, 8, cfg.Build.Concurrency)
				assert.False(t, cfg.Build.Publish)
			},
		},
		{
			name: "Should parse comma separated environments and tags",
			envVars: map[string]string{
				"BIFROST_BUILD_ENVIRONMENTS": "dev,qa,prod-eu",
				"BIFROST_BUILD_TAGS":         "web,ios",
			},
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"dev", "qa", "prod-eu"}, cfg.Build.Environments)
				assert.Equal(t, []string{"web", "ios"}, cfg.Build.Tags)
			},
		},
		{
			name:    "Should reject duplicate environments",
			envVars: map[string]string{"BIFROST_BUILD_ENVIRONMENTS": "staging,staging"},
			wantErr: "listed more than once",
		},
		{
			name:    "Should reject environment names that are not slugs",
			envVars: map[string]string{"BIFROST_BUILD_ENVIRONMENTS": "Prod"},
			wantErr: "environment name",
		},
		{
			name:    "Should reject tag names with path separators",
			envVars: map[string]string{"BIFROST_BUILD_TAGS": "web/ios"},
			wantErr: "tag name",
		},
		{
			name:    "Should reject unknown state backend",
			envVars: map[string]string{"BIFROST_BUILD_STATE_BACKEND": "s3"},
			wantErr: "validation error",
		},
		{
			name:    "Should reject zero concurrency",
			envVars: map[string]string{"BIFROST_BUILD_CONCURRENCY": "0"},
			wantErr: "validation error",
		},
		{
			name:    "Should reject empty output dir",
			envVars: map[string]string{"BIFROST_BUILD_OUTPUT_DIR": " "},
			wantErr: "output dir",
		},
		{
			name:    "Should require redis when publishing",
			envVars: map[string]string{"BIFROST_BUILD_PUBLISH": "true"},
			wantErr: "redis host cannot be empty",
		},
		{
			name:    "Should require a database for the postgres backend",
			envVars: map[string]string{"BIFROST_BUILD_STATE_BACKEND": "postgres"},
			wantErr: "database host cannot be empty",
		},
	})
}

func TestBuildConfig_Needs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		cfg          BuildConfig
		wantDatabase bool
		wantRedis    bool
	}{
		{name: "file", cfg: BuildConfig{StateBackend: StateBackendFile}},
		{name: "file with publish", cfg: BuildConfig{StateBackend: StateBackendFile, Publish: true}, wantRedis: true},
		{name: "postgres", cfg: BuildConfig{StateBackend: StateBackendPostgres}, wantDatabase: true},
		{name: "redis", cfg: BuildConfig{StateBackend: StateBackendRedis}, wantRedis: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.wantDatabase, tt.cfg.NeedsDatabase())
			assert.Equal(t, tt.wantRedis, tt.cfg.NeedsRedis())
		})
	}
}
