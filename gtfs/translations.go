package gtfs

import (
	"fmt"
	"strings"

	"github.com/openmobility/transithub/model"
)

// Language selection over a stop's translated names.
//
// The requested language wins when a translation exists; otherwise
// the provider's declared language preference is walked in order, and
// as a last resort the untranslated default name is returned with a
// warning recording the chain that was tried.
func SelectStopName(stop *model.Stop, requested string, available []string) (string, model.LanguageMeta) {
	requested = strings.ToLower(requested)

	meta := model.LanguageMeta{
		Requested: requested,
		Selected:  requested,
	}

	if requested != "" {
		if v, ok := stop.Translations[requested]; ok {
			return v, meta
		}
	}

	chain := []string{}
	if requested != "" {
		chain = append(chain, requested)
	}
	for _, lang := range available {
		lang = strings.ToLower(lang)
		if lang == requested {
			continue
		}
		chain = append(chain, lang)
		if v, ok := stop.Translations[lang]; ok {
			meta.Selected = lang
			meta.FallbackChain = chain
			return v, meta
		}
	}

	meta.Selected = "default"
	meta.FallbackChain = chain
	meta.Warning = fmt.Sprintf(
		"no translation for %q, fell back to default name (tried: %s)",
		requested, strings.Join(chain, ", "))
	return stop.Name, meta
}
