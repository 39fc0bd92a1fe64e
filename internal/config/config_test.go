package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadFromYAML_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "pydicer.yaml")

	content := `
workdir: ./work
inputs:
  - /data/archive1
  - /data/archive2
keep_newest: true
quiet: true
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	c, err := LoadFromYAML(configPath)
	if err != nil {
		t.Fatalf("LoadFromYAML failed: %v", err)
	}

	if c.WorkDir != "./work" {
		t.Errorf("Expected workdir ./work, got %s", c.WorkDir)
	}
	if len(c.Inputs) != 2 || c.Inputs[0] != "/data/archive1" {
		t.Errorf("Expected 2 inputs, got %v", c.Inputs)
	}
	if !c.KeepNewest {
		t.Error("Expected keep_newest true")
	}
	if !c.Quiet {
		t.Error("Expected quiet true")
	}
}

func TestLoadFromYAML_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "pydicer.yaml")

	if err := os.WriteFile(configPath, []byte("inputs:\n  - /data\n"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	c, err := LoadFromYAML(configPath)
	if err != nil {
		t.Fatalf("LoadFromYAML failed: %v", err)
	}
	if c.WorkDir != "." {
		t.Errorf("Expected default workdir '.', got %s", c.WorkDir)
	}
	if c.KeepNewest || c.Quiet {
		t.Errorf("Expected policy defaults off, got %+v", c)
	}
}

func TestLoadFromYAML_NonExistentFile(t *testing.T) {
	if _, err := LoadFromYAML("/non/existent/path/pydicer.yaml"); err == nil {
		t.Error("Expected error for non-existent file")
	}
}

func TestLoadFromYAML_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.yaml")
	if err := os.WriteFile(configPath, []byte("workdir: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	if _, err := LoadFromYAML(configPath); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestLoadFromYAML_EmptyInput(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.yaml")
	if err := os.WriteFile(configPath, []byte("inputs:\n  - \"\"\n"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	if _, err := LoadFromYAML(configPath); err == nil {
		t.Error("Expected validation error for empty input entry")
	}
}

func TestSaveToYAML_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "pydicer.yaml")

	c := &Config{
		WorkDir:    "/srv/pydicer",
		Inputs:     []string{"/data/a", "/data/b"},
		KeepNewest: true,
	}
	if err := SaveToYAML(c, configPath); err != nil {
		t.Fatalf("SaveToYAML failed: %v", err)
	}
	loaded, err := LoadFromYAML(configPath)
	if err != nil {
		t.Fatalf("LoadFromYAML failed: %v", err)
	}
	if !reflect.DeepEqual(c, loaded) {
		t.Errorf("Round trip mismatch: %+v vs %+v", c, loaded)
	}
}
