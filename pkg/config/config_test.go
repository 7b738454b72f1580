package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type sampleConfig struct {
	BaseURL string `split_words:"true" default:"https://example.test"`
	Token   string `split_words:"true"`
}

func (c *sampleConfig) Validate() error {
	if c.Token == "reject" {
		return errors.New("token rejected")
	}
	return nil
}

func TestNewAppliesDefaultsAndValidator(t *testing.T) {
	t.Setenv("SAMPLETEST_TOKEN", "abc")

	conf, err := New[sampleConfig]("SAMPLETEST")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if conf.BaseURL != "https://example.test" {
		t.Fatalf("BaseURL = %q, want default", conf.BaseURL)
	}
	if conf.Token != "abc" {
		t.Fatalf("Token = %q, want %q", conf.Token, "abc")
	}

	t.Setenv("SAMPLETEST_TOKEN", "reject")
	if _, err := New[sampleConfig]("SAMPLETEST"); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestExportEnvironmentKeepsExistingValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("EXPORTTEST_KEEP=fromfile\nEXPORTTEST_NEW=fromfile\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("EXPORTTEST_KEEP", "fromenv")
	t.Setenv("EXPORTTEST_NEW", "")
	os.Unsetenv("EXPORTTEST_NEW")

	if err := exportEnvironment(path); err != nil {
		t.Fatalf("exportEnvironment() error = %v", err)
	}
	if got := os.Getenv("EXPORTTEST_KEEP"); got != "fromenv" {
		t.Fatalf("EXPORTTEST_KEEP = %q, want %q", got, "fromenv")
	}
	if got := os.Getenv("EXPORTTEST_NEW"); got != "fromfile" {
		t.Fatalf("EXPORTTEST_NEW = %q, want %q", got, "fromfile")
	}
}
