package brand

import (
	"path/filepath"
	"testing"
)

func TestGet(t *testing.T) {
	b := Get()
	if b.Name == "" {
		t.Error("Brand name should not be empty")
	}
	if Version == "" {
		t.Error("Global Version should be initialized (to dev default)")
	}
	if BinaryName != "setguard" {
		t.Errorf("unexpected binary name %q", BinaryName)
	}
}

func TestUserAgent(t *testing.T) {
	if got := UserAgent("1.2.0"); got != Name+"/1.2.0" {
		t.Errorf("UserAgent = %q", got)
	}
	if got := UserAgent(""); got != Name+"/dev" {
		t.Errorf("UserAgent default = %q", got)
	}
}

func TestGetDirectories(t *testing.T) {
	t.Setenv(ConfigEnvPrefix+"_PREFIX", "")
	t.Setenv(ConfigEnvPrefix+"_STATE_DIR", "")
	t.Setenv(ConfigEnvPrefix+"_CONFIG_DIR", "")
	t.Setenv(ConfigEnvPrefix+"_LOG_DIR", "")

	if GetStateDir() != DefaultStateDir {
		t.Errorf("expected default state dir, got %s", GetStateDir())
	}

	t.Setenv(ConfigEnvPrefix+"_PREFIX", "/opt/sg")
	if GetConfigDir() != filepath.Join("/opt/sg", "config") {
		t.Errorf("prefix not honoured: %s", GetConfigDir())
	}
	if GetLogDir() != filepath.Join("/opt/sg", "log") {
		t.Errorf("prefix not honoured: %s", GetLogDir())
	}

	t.Setenv(ConfigEnvPrefix+"_STATE_DIR", "/tmp/state")
	if GetStateDir() != "/tmp/state" {
		t.Errorf("explicit dir should win: %s", GetStateDir())
	}
	if DefaultConfigPath() != filepath.Join("/opt/sg", "config", ConfigFileName) {
		t.Errorf("unexpected config path %s", DefaultConfigPath())
	}
}

func TestListTag(t *testing.T) {
	if got := ListTag("ipsum"); got != "setguard-ipsum" {
		t.Errorf("ListTag = %q", got)
	}
}
