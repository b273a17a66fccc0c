package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab/sentinel/internal/validator"
	"github.com/homelab/sentinel/pkg/types"
)

func writeAction(t *testing.T, dir, filename, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte(content), 0644))
}

func newTestValidator(t *testing.T) validator.Validator {
	t.Helper()
	v, err := validator.New()
	require.NoError(t, err)
	return v
}

func TestLoadValidCatalog(t *testing.T) {
	dir := t.TempDir()
	writeAction(t, dir, "restart.yaml", `
name: container_restart
tier: 2
category: remediation
command: docker restart plex
timeout_seconds: 30
auto_execute: true
risk_level: medium
`)
	writeAction(t, dir, "status.yaml", `
name: docker_status
tier: 1
category: diagnose
command: docker ps -a
timeout_seconds: 10
auto_execute: true
risk_level: safe
`)

	c, err := Load(dir, newTestValidator(t))
	require.NoError(t, err)

	def, ok := c.Get("container_restart")
	require.True(t, ok)
	assert.Equal(t, types.TierRemediate, def.Tier)

	assert.Len(t, c.ListAll(), 2)
	assert.Len(t, c.ListByTier(types.TierDiagnose), 1)
}

func TestLoadRejectsUnvalidatedCommand(t *testing.T) {
	dir := t.TempDir()
	writeAction(t, dir, "bad.yaml", `
name: bogus
tier: 1
command: some-completely-unknown-binary --flag
timeout_seconds: 10
risk_level: safe
`)

	_, err := Load(dir, newTestValidator(t))
	assert.Error(t, err)
}

func TestLoadRejectsEntireCatalogOnFirstInvalidDefinition(t *testing.T) {
	dir := t.TempDir()
	writeAction(t, dir, "a_good.yaml", `
name: docker_status
tier: 1
command: docker ps -a
timeout_seconds: 10
risk_level: safe
`)
	writeAction(t, dir, "z_bad.yaml", `
name: forbidden_wipe
tier: 2
command: rm -rf /
timeout_seconds: 10
risk_level: critical
`)

	_, err := Load(dir, newTestValidator(t))
	require.Error(t, err)
}

func TestLoadRejectsProactiveAutoExecuteAndRequiresApprovalTogether(t *testing.T) {
	dir := t.TempDir()
	writeAction(t, dir, "conflict.yaml", `
name: conflicting
tier: 3
command: docker ps -a
timeout_seconds: 10
auto_execute: true
requires_approval: true
risk_level: safe
`)

	_, err := Load(dir, newTestValidator(t))
	assert.Error(t, err)
}

func TestLoadAllowsBothFlagsBelowTierThree(t *testing.T) {
	dir := t.TempDir()
	writeAction(t, dir, "gated.yaml", `
name: gated_status
tier: 1
command: docker ps -a
timeout_seconds: 10
auto_execute: true
requires_approval: true
risk_level: safe
`)

	c, err := Load(dir, newTestValidator(t))
	require.NoError(t, err)
	_, ok := c.Get("gated_status")
	assert.True(t, ok)
}

func TestReloadSwapsDefinitionsAndKeepsOldOnFailure(t *testing.T) {
	dir := t.TempDir()
	writeAction(t, dir, "status.yaml", `
name: docker_status
tier: 1
command: docker ps -a
timeout_seconds: 10
risk_level: safe
`)

	v := newTestValidator(t)
	c, err := Load(dir, v)
	require.NoError(t, err)

	rc, ok := c.(Reloader)
	require.True(t, ok)

	writeAction(t, dir, "logs.yaml", `
name: docker_logs
tier: 1
command: docker logs plex
timeout_seconds: 10
risk_level: safe
`)
	require.NoError(t, rc.Reload(dir, v))
	assert.Len(t, c.ListAll(), 2)

	writeAction(t, dir, "broken.yaml", `
name: wipe
tier: 2
command: rm -rf /
timeout_seconds: 10
risk_level: critical
`)
	assert.Error(t, rc.Reload(dir, v))
	// The previous catalog survives a rejected reload.
	assert.Len(t, c.ListAll(), 2)
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeAction(t, dir, "one.yaml", `
name: docker_status
tier: 1
command: docker ps -a
timeout_seconds: 10
risk_level: safe
`)
	writeAction(t, dir, "two.yaml", `
name: docker_status
tier: 1
command: docker ps
timeout_seconds: 10
risk_level: safe
`)

	_, err := Load(dir, newTestValidator(t))
	assert.Error(t, err)
}
