package definitions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeProject creates a project under a temp dir from "dir/name.yml" -> body.
func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()
	for rel, body := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	return root
}

const checkoutFeature = `
description: New checkout flow
tags: [web, ios]
variations:
  - value: control
    weight: 50
  - value: treatment
    weight: 50
environments:
  staging:
    rules:
      - key: everyone
        percentage: 100
  production:
    rules:
      - key: beta
        segments: [beta-users]
        percentage: 100
        variation: treatment
      - key: everyone
        percentage: 12.5
        variables:
          color: blue
`

const darkModeFeature = `
bucketBy: deviceId
variations:
  - value: on
    weight: 33.333
  - value: 1.50
    weight: 66.667
`

const experimentsGroup = `
description: mutually exclusive checkout experiments
slots:
  - feature: checkout
    percentage: 60
  - percentage: 40
`

const betaSegment = `
description: opted into beta
conditions:
  - attribute: beta
    operator: equals
    value: true
`

func sampleFiles() map[string]string {
	return map[string]string{
		"features/checkout.yml":    checkoutFeature,
		"features/dark-mode.yaml":  darkModeFeature,
		"groups/experiments.yml":   experimentsGroup,
		"segments/beta-users.yml":  betaSegment,
		"features/README.md":       "not a definition",
		"features/.hidden.yml":     "ignored: true",
	}
}
