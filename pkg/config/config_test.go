package config

import (
	"os"
	"strings"
	"testing"
)

func TestLoadConfigCreatesDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	conf := LoadConfig()
	if conf == nil {
		t.Fatal("LoadConfig returned nil")
	}
	if conf.DefaultType != "" || conf.ChunkSize != 0 {
		t.Errorf("fresh config is not zero: %+v", conf)
	}

	path, err := GetConfigFilePath(configFile)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("default config file not written: %v", err)
	}
	if !strings.Contains(string(data), "region-policy") {
		t.Error("default config file does not mention region-policy")
	}
}

func TestSaveAndReloadConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	LoadConfig()

	want := &Config{
		DefaultType:  "int64",
		StringWindow: 32,
		Policy:       "readable",
		ChunkSize:    1 << 20,
		ScanWorkers:  4,
		Aliases:      map[string][]string{"next": {"nn"}},
	}
	if err := SaveConfig(want); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	got := LoadConfig()
	if got.DefaultType != "int64" || got.StringWindow != 32 || got.Policy != "readable" ||
		got.ChunkSize != 1<<20 || got.ScanWorkers != 4 {
		t.Errorf("reloaded config = %+v", got)
	}
	if len(got.Aliases["next"]) != 1 || got.Aliases["next"][0] != "nn" {
		t.Errorf("aliases did not survive the round trip: %v", got.Aliases)
	}
}
