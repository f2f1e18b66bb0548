package internal

import (
	"strings"
	"testing"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Retrieval.HopDecay != 0.5 || cfg.Retrieval.DefaultMaxHops != 2 || cfg.Retrieval.DefaultLimit != 20 {
		t.Errorf("retrieval defaults = %+v", cfg.Retrieval)
	}
	if cfg.Network.StrengthThreshold != 0.5 {
		t.Errorf("threshold = %v, want 0.5", cfg.Network.StrengthThreshold)
	}
}

func TestProjectConfig_RejectsEscapingDirs(t *testing.T) {
	for _, dir := range []string{"../chapters", "/abs/chapters", ""} {
		cfg := NewDefaultConfig()
		cfg.Project.ChaptersDir = dir
		if err := cfg.Validate(); err == nil {
			t.Errorf("chapters_dir %q should fail validation", dir)
		}
	}
}

func TestConfig_SectionErrorsNamed(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Retrieval.HopDecay = 1.5
	err := cfg.Validate()
	if err == nil || !strings.HasPrefix(err.Error(), "retrieval:") {
		t.Fatalf("err = %v, want retrieval section error", err)
	}

	cfg = NewDefaultConfig()
	cfg.App.LogFormat = "xml"
	if err := cfg.Validate(); err == nil || !strings.HasPrefix(err.Error(), "app:") {
		t.Fatalf("err = %v, want app section error", err)
	}
}

func TestConfig_IndexerOptions(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Extract.Characters = []string{"张三"}
	opts := cfg.IndexerOptions()
	if opts.ChaptersDir != "chapters" || opts.SettingsDir != "settings" || opts.Workers != 4 {
		t.Errorf("indexer options = %+v", opts)
	}
	if len(opts.Characters) != 1 || opts.Characters[0] != "张三" {
		t.Errorf("characters = %v", opts.Characters)
	}
}
