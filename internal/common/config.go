package common

import (
	"fmt"
	"os"

	ini "gopkg.in/ini.v1"
)

// DefaultConfigPath is used when no --config flag or CONFIG_PATH is given.
const DefaultConfigPath = "config.ini"

// Config holds all configuration for stocksync. A marketplace section being
// present in the INI file enables that marketplace; a nil pointer here means
// the section was absent.
type Config struct {
	Common      CommonConfig
	Lazada      *LazadaConfig
	Shopee      *ShopeeConfig
	Tiktok      *TiktokConfig
	Opencart    *OpencartConfig
	WooCommerce *WooCommerceConfig
}

// CommonConfig holds the [Common] section.
type CommonConfig struct {
	// Store is the path of the embedded SQLite database file.
	Store string `ini:"Store"`
	// DefaultSystem names the config section of the canonical catalogue.
	DefaultSystem string `ini:"DefaultSystem"`
	// EnableLazadaToShopeeUpload turns on the post-sync listing pass.
	EnableLazadaToShopeeUpload bool `ini:"EnableLazadaToShopeeUpload"`
	// LogLevel is a zerolog level name ("debug", "info", ...).
	LogLevel string `ini:"LogLevel"`
}

// LazadaConfig holds the [Lazada] section.
type LazadaConfig struct {
	Domain    string `ini:"Domain"`
	AppKey    string `ini:"AppKey"`
	AppSecret string `ini:"AppSecret"`
}

// ShopeeConfig holds the [Shopee] section.
type ShopeeConfig struct {
	ShopID     int64  `ini:"ShopID"`
	PartnerID  int64  `ini:"PartnerID"`
	PartnerKey string `ini:"PartnerKey"`
}

// TiktokConfig holds the [Tiktok] section.
type TiktokConfig struct {
	Domain      string `ini:"Domain"`
	AppKey      string `ini:"AppKey"`
	AppSecret   string `ini:"AppSecret"`
	ShopID      string `ini:"ShopID"`
	WarehouseID string `ini:"WarehouseID"`
}

// OpencartConfig holds the [Opencart] section.
type OpencartConfig struct {
	Domain   string `ini:"Domain"`
	Username string `ini:"Username"`
	Password string `ini:"Password"`
}

// WooCommerceConfig holds the [WooCommerce] section.
type WooCommerceConfig struct {
	Domain         string `ini:"Domain"`
	ConsumerKey    string `ini:"ConsumerKey"`
	ConsumerSecret string `ini:"ConsumerSecret"`
}

// ResolveConfigPath picks the config file path: explicit flag value first,
// then the CONFIG_PATH environment variable, then the default.
func ResolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		return env
	}
	return DefaultConfigPath
}

// LoadConfig reads and validates the INI configuration file.
func LoadConfig(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := &Config{
		Common: CommonConfig{
			Store:    "./stocksync.db",
			LogLevel: "info",
		},
	}

	commonSection, err := file.GetSection("Common")
	if err != nil {
		return nil, fmt.Errorf("config %s: missing [Common] section", path)
	}
	if err := commonSection.MapTo(&config.Common); err != nil {
		return nil, fmt.Errorf("config %s: invalid [Common] section: %w", path, err)
	}
	if config.Common.DefaultSystem == "" {
		return nil, fmt.Errorf("config %s: [Common] DefaultSystem is required", path)
	}

	if section, err := file.GetSection("Lazada"); err == nil {
		config.Lazada = &LazadaConfig{}
		if err := section.MapTo(config.Lazada); err != nil {
			return nil, fmt.Errorf("config %s: invalid [Lazada] section: %w", path, err)
		}
	}
	if section, err := file.GetSection("Shopee"); err == nil {
		config.Shopee = &ShopeeConfig{}
		if err := section.MapTo(config.Shopee); err != nil {
			return nil, fmt.Errorf("config %s: invalid [Shopee] section: %w", path, err)
		}
	}
	if section, err := file.GetSection("Tiktok"); err == nil {
		config.Tiktok = &TiktokConfig{}
		if err := section.MapTo(config.Tiktok); err != nil {
			return nil, fmt.Errorf("config %s: invalid [Tiktok] section: %w", path, err)
		}
	}
	if section, err := file.GetSection("Opencart"); err == nil {
		config.Opencart = &OpencartConfig{}
		if err := section.MapTo(config.Opencart); err != nil {
			return nil, fmt.Errorf("config %s: invalid [Opencart] section: %w", path, err)
		}
	}
	if section, err := file.GetSection("WooCommerce"); err == nil {
		config.WooCommerce = &WooCommerceConfig{}
		if err := section.MapTo(config.WooCommerce); err != nil {
			return nil, fmt.Errorf("config %s: invalid [WooCommerce] section: %w", path, err)
		}
	}

	if !config.Enabled(config.Common.DefaultSystem) {
		return nil, fmt.Errorf(
			"config %s: DefaultSystem %q has no matching section", path, config.Common.DefaultSystem)
	}

	return config, nil
}

// Enabled reports whether the named marketplace section is present.
func (c *Config) Enabled(section string) bool {
	switch section {
	case "Lazada":
		return c.Lazada != nil
	case "Shopee":
		return c.Shopee != nil
	case "Tiktok":
		return c.Tiktok != nil
	case "Opencart":
		return c.Opencart != nil
	case "WooCommerce":
		return c.WooCommerce != nil
	}
	return false
}

// EnabledSections lists the present marketplace sections in a fixed order.
func (c *Config) EnabledSections() []string {
	var sections []string
	for _, name := range []string{"Opencart", "Lazada", "Shopee", "WooCommerce", "Tiktok"} {
		if c.Enabled(name) {
			sections = append(sections, name)
		}
	}
	return sections
}
