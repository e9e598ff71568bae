package elevation

import (
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/biosample-enricher/pkg/httpcache"
)

// Settings is a provider Config plus its enablement flag.
type Settings struct {
	Config
	Enabled bool
}

// Known lists the built-in providers in registration order.
var Known = []string{NameUSGS, NameGoogle, NameOpenTopoData, NameOSM}

// BuildRegistry registers every enabled built-in provider. A provider missing
// from settings is registered with defaults; Google is skipped without a key.
func BuildRegistry(hc *httpcache.Client, settings map[string]Settings) *Registry {
	reg := NewRegistry()
	for _, name := range Known {
		s, ok := settings[name]
		if !ok {
			s = Settings{Enabled: true}
		}
		if !s.Enabled {
			zap.L().Debug("elevation: provider disabled", zap.String("provider", name))
			continue
		}
		switch name {
		case NameUSGS:
			reg.Register(NewUSGS(hc, s.Config))
		case NameGoogle:
			p, err := NewGoogle(hc, s.Config)
			if err != nil {
				zap.L().Info("elevation: google provider not registered", zap.Error(err))
				continue
			}
			reg.Register(p)
		case NameOpenTopoData:
			reg.Register(NewOpenTopoData(hc, s.Config))
		case NameOSM:
			reg.Register(NewOpenElevation(hc, s.Config))
		}
	}

	var unknown []string
	for name := range settings {
		if !isKnown(name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		zap.L().Warn("elevation: ignoring unknown providers", zap.Strings("providers", unknown))
	}
	return reg
}

func isKnown(name string) bool {
	for _, k := range Known {
		if k == name {
			return true
		}
	}
	return false
}
