// Package models defines data structures for stocksync.
package models

import "github.com/skeolabs/stocksync/internal/common"

// System identifies a marketplace. The system code is part of the durable
// cache, delta, and sync-log rows, so the values are frozen.
type System string

const (
	SystemOpencart    System = "OPENCART"
	SystemLazada      System = "LAZADA"
	SystemShopee      System = "SHOPEE"
	SystemWooCommerce System = "WOOCOMMERCE"
	SystemTiktok      System = "TIKTOK"
)

// ConfigSection returns the INI section name that configures the system.
func (s System) ConfigSection() string {
	switch s {
	case SystemOpencart:
		return "Opencart"
	case SystemLazada:
		return "Lazada"
	case SystemShopee:
		return "Shopee"
	case SystemWooCommerce:
		return "WooCommerce"
	case SystemTiktok:
		return "Tiktok"
	}
	return ""
}

// AllSystems lists every supported marketplace in configuration order.
func AllSystems() []System {
	return []System{
		SystemOpencart,
		SystemLazada,
		SystemShopee,
		SystemWooCommerce,
		SystemTiktok,
	}
}

// ParseSystem resolves a system code or config section name to a System.
func ParseSystem(name string) (System, error) {
	for _, s := range AllSystems() {
		if name == string(s) || name == s.ConfigSection() {
			return s, nil
		}
	}
	return "", &common.UnhandledSystemError{System: name}
}
