package detector

import (
	"strings"

	"doorguard/internal/config"
)

// AccessControlSet holds keys known to be legitimate. Attempts with a trusted
// key are not counted and never become candidate keys.
type AccessControlSet struct {
	Enabled         bool
	GlobalTrusted   map[string]struct{}
	LocationTrusted map[string]map[string]struct{}
}

func buildAccessControl(cfg *config.Config) *AccessControlSet {
	ac := &AccessControlSet{Enabled: cfg.AccessControl.Enabled}
	if !ac.Enabled {
		return ac
	}
	ac.GlobalTrusted = buildKeySet(cfg.AccessControl.TrustedKeys)
	if len(cfg.AccessControl.LocationTrustedKeys) > 0 {
		ac.LocationTrusted = make(map[string]map[string]struct{}, len(cfg.AccessControl.LocationTrustedKeys))
		for location, list := range cfg.AccessControl.LocationTrustedKeys {
			location = strings.TrimSpace(location)
			if set := buildKeySet(list); location != "" && len(set) > 0 {
				ac.LocationTrusted[location] = set
			}
		}
	}
	return ac
}

func buildKeySet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			set[v] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func (a *AccessControlSet) IsTrusted(location, key string) bool {
	if a == nil || key == "" {
		return false
	}
	if _, ok := a.GlobalTrusted[key]; ok {
		return true
	}
	if set, ok := a.LocationTrusted[location]; ok {
		if _, ok := set[key]; ok {
			return true
		}
	}
	return false
}
