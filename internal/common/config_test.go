package common

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.ini")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfigFull(t *testing.T) {
	path := writeConfig(t, `
[Common]
Store = /var/lib/stocksync/stocks.db
DefaultSystem = Opencart
EnableLazadaToShopeeUpload = true
LogLevel = debug

[Opencart]
Domain = https://shop.example.com/admin/index.php?route=
Username = admin
Password = hunter2

[Lazada]
Domain = https://api.lazada.com.ph/rest
AppKey = key
AppSecret = secret

[Shopee]
ShopID = 555
PartnerID = 42
PartnerKey = partner-key
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Common.Store != "/var/lib/stocksync/stocks.db" {
		t.Errorf("Store = %q", config.Common.Store)
	}
	if !config.Common.EnableLazadaToShopeeUpload {
		t.Error("EnableLazadaToShopeeUpload not parsed")
	}
	if config.Lazada == nil || config.Lazada.AppKey != "key" {
		t.Errorf("Lazada section parsed wrong: %+v", config.Lazada)
	}
	if config.Shopee == nil || config.Shopee.ShopID != 555 || config.Shopee.PartnerID != 42 {
		t.Errorf("Shopee section parsed wrong: %+v", config.Shopee)
	}
	if config.Tiktok != nil || config.WooCommerce != nil {
		t.Error("absent sections must stay nil")
	}

	sections := config.EnabledSections()
	want := []string{"Opencart", "Lazada", "Shopee"}
	if len(sections) != len(want) {
		t.Fatalf("EnabledSections = %v, want %v", sections, want)
	}
	for i := range want {
		if sections[i] != want[i] {
			t.Errorf("EnabledSections[%d] = %q, want %q", i, sections[i], want[i])
		}
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
[Common]
DefaultSystem = Opencart

[Opencart]
Domain = https://shop.example.com/
Username = admin
Password = hunter2
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if config.Common.Store != "./stocksync.db" {
		t.Errorf("default Store = %q", config.Common.Store)
	}
	if config.Common.LogLevel != "info" {
		t.Errorf("default LogLevel = %q", config.Common.LogLevel)
	}
}

func TestLoadConfigMissingCommon(t *testing.T) {
	path := writeConfig(t, `
[Opencart]
Domain = https://shop.example.com/
`)
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for missing [Common] section")
	}
}

func TestLoadConfigMissingDefaultSystem(t *testing.T) {
	path := writeConfig(t, `
[Common]
Store = ./x.db

[Opencart]
Domain = https://shop.example.com/
`)
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for missing DefaultSystem")
	}
}

func TestLoadConfigDefaultSystemMustBeEnabled(t *testing.T) {
	path := writeConfig(t, `
[Common]
DefaultSystem = Lazada

[Opencart]
Domain = https://shop.example.com/
Username = admin
Password = hunter2
`)
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for DefaultSystem without a matching section")
	}
}

func TestResolveConfigPath(t *testing.T) {
	if got := ResolveConfigPath("/etc/stocksync.ini"); got != "/etc/stocksync.ini" {
		t.Errorf("flag value ignored: %q", got)
	}

	t.Setenv("CONFIG_PATH", "/env/config.ini")
	if got := ResolveConfigPath(""); got != "/env/config.ini" {
		t.Errorf("CONFIG_PATH ignored: %q", got)
	}

	t.Setenv("CONFIG_PATH", "")
	if got := ResolveConfigPath(""); got != DefaultConfigPath {
		t.Errorf("default not applied: %q", got)
	}
}
