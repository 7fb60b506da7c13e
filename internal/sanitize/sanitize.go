// ABOUTME: Projects the host gateway's live configuration into a reduced, secret-free shape
// ABOUTME: Section projections pick known-safe fields; a final redaction pass catches anything secret-looking

package sanitize

import (
	"sort"
	"strings"
	"unicode"
)

// Redacted replaces secret-looking string values that survive projection.
const Redacted = "***REDACTED***"

// defaultSecretKeys name keys whose values never leave the process. A key
// matches when a run of its words equals or ends with one of these, so
// botToken and client_secret match while maxTokens does not.
var defaultSecretKeys = []string{
	"token", "secret", "secrets", "password", "passwords", "passwd", "apikey",
	"credential", "credentials", "private", "privatekey", "accesskey", "secretkey",
	"cookie", "cookies", "authorization",
}

// quantityWords end keys that describe an amount rather than hold a value,
// such as tokenLimit or password_min_length.
var quantityWords = map[string]bool{
	"count": true, "limit": true, "limits": true, "budget": true, "window": true,
	"size": true, "length": true, "max": true, "min": true, "ttl": true,
}

// secretValuePrefixes flag well-known credential formats regardless of key.
var secretValuePrefixes = []string{
	"sk-", "sk_", "xoxb-", "xoxp-", "xapp-", "ghp_", "gho_", "glpat-", "AKIA", "alk_",
}

// Sanitizer holds the secret-key policy.
type Sanitizer struct {
	secretKeys []string
}

// New creates a Sanitizer with the built-in secret keys plus extra.
func New(extra []string) *Sanitizer {
	keys := append([]string(nil), defaultSecretKeys...)
	for _, k := range extra {
		if k = strings.Join(keyWords(k), ""); k != "" {
			keys = append(keys, k)
		}
	}
	return &Sanitizer{secretKeys: keys}
}

// Sanitize returns the projection of cfg. A nil cfg yields an empty map.
// cfg is not modified.
func (s *Sanitizer) Sanitize(cfg map[string]any) map[string]any {
	out := map[string]any{}
	if cfg == nil {
		return out
	}

	if v := hostVersion(cfg); v != "" {
		out["host_version"] = v
	}
	if agents := projectAgents(mapAt(cfg, "agents")); len(agents) > 0 {
		out["agents"] = agents
	}
	if channels := projectChannels(mapAt(cfg, "channels")); len(channels) > 0 {
		out["channels"] = channels
	}
	if models := projectModels(mapAt(cfg, "models")); len(models) > 0 {
		out["models"] = models
	}
	if plugins := projectPlugins(mapAt(cfg, "plugins")); len(plugins) > 0 {
		out["plugins"] = plugins
	}
	if gw := projectGateway(mapAt(cfg, "gateway")); len(gw) > 0 {
		out["gateway"] = gw
	}
	if tools := projectTools(mapAt(cfg, "tools")); len(tools) > 0 {
		out["tools"] = tools
	}

	redacted, _ := s.Redact(out).(map[string]any)
	return redacted
}

// Redact walks v and returns a copy with secret keys removed and
// secret-looking string values replaced.
func (s *Sanitizer) Redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if s.isSecretKey(k) {
				continue
			}
			out[k] = s.Redact(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = s.Redact(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = s.Redact(val)
		}
		return out
	case string:
		if looksSecret(t) {
			return Redacted
		}
		return t
	default:
		return v
	}
}

func (s *Sanitizer) isSecretKey(key string) bool {
	words := keyWords(key)
	if len(words) == 0 {
		return false
	}
	if len(words) == 1 && words[0] == "key" {
		return true
	}
	if len(words) > 1 && quantityWords[words[len(words)-1]] {
		return false
	}
	for i := range words {
		run := ""
		for j := i; j < len(words); j++ {
			run += words[j]
			for _, frag := range s.secretKeys {
				if strings.HasSuffix(run, frag) {
					return true
				}
			}
		}
	}
	return false
}

// keyWords splits camelCase, snake_case, kebab-case and dotted keys into
// lowercase words. Acronyms stay together: APIKey is api, key.
func keyWords(key string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(key)
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if unicode.IsUpper(r) && len(cur) > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return words
}

func looksSecret(v string) bool {
	for _, p := range secretValuePrefixes {
		if strings.HasPrefix(v, p) && len(v) > len(p)+8 {
			return true
		}
	}
	return false
}

func hostVersion(cfg map[string]any) string {
	meta := mapAt(cfg, "meta")
	for _, k := range []string{"lastTouchedVersion", "version"} {
		if v := stringAt(meta, k); v != "" {
			return v
		}
	}
	return ""
}

func projectAgents(agents map[string]any) map[string]any {
	out := map[string]any{}
	if agents == nil {
		return out
	}

	if defaults := mapAt(agents, "defaults"); defaults != nil {
		d := map[string]any{}
		if m := modelName(defaults["model"]); m != "" {
			d["model"] = m
		}
		copyScalars(d, defaults, "workspace", "maxConcurrent", "timeoutSeconds", "thinkingDefault")
		if len(d) > 0 {
			out["defaults"] = d
		}
	}

	if list, ok := agents["list"].([]any); ok {
		var entries []any
		for _, item := range list {
			a, ok := item.(map[string]any)
			if !ok {
				continue
			}
			entry := map[string]any{}
			copyScalars(entry, a, "id", "name", "default")
			if m := modelName(a["model"]); m != "" {
				entry["model"] = m
			}
			if len(entry) > 0 {
				entries = append(entries, entry)
			}
		}
		if len(entries) > 0 {
			out["list"] = entries
		}
	}
	return out
}

// modelName accepts "provider/model" strings or {primary: ...} objects.
func modelName(v any) string {
	switch m := v.(type) {
	case string:
		return m
	case map[string]any:
		return stringAt(m, "primary")
	}
	return ""
}

func projectChannels(channels map[string]any) map[string]any {
	out := map[string]any{}
	for name, raw := range channels {
		ch, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		enabled := true
		if b, ok := ch["enabled"].(bool); ok {
			enabled = b
		}
		entry := map[string]any{"enabled": enabled}
		copyScalars(entry, ch, "dmPolicy", "groupPolicy")
		if accounts := mapAt(ch, "accounts"); accounts != nil {
			entry["accounts"] = len(accounts)
		}
		out[name] = entry
	}
	return out
}

func projectModels(models map[string]any) map[string]any {
	providers := mapAt(models, "providers")
	out := map[string]any{}
	for name, raw := range providers {
		p, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		var ids []string
		limits := map[string]any{}
		if list, ok := p["models"].([]any); ok {
			for _, item := range list {
				switch m := item.(type) {
				case string:
					ids = append(ids, m)
				case map[string]any:
					id := stringAt(m, "id")
					if id == "" {
						continue
					}
					ids = append(ids, id)
					lim := map[string]any{}
					copyScalars(lim, m, "contextWindow", "contextTokens", "maxTokens")
					if len(lim) > 0 {
						limits[id] = lim
					}
				}
			}
		}
		sort.Strings(ids)
		entry := map[string]any{"models": ids}
		if len(limits) > 0 {
			entry["limits"] = limits
		}
		copyScalars(entry, p, "api")
		out[name] = entry
	}
	return out
}

func projectPlugins(plugins map[string]any) map[string]any {
	out := map[string]any{}
	if plugins == nil {
		return out
	}
	if b, ok := plugins["enabled"].(bool); ok {
		out["enabled"] = b
	}
	var enabled, disabled []string
	for name, raw := range mapAt(plugins, "entries") {
		entry, _ := raw.(map[string]any)
		on := true
		if b, ok := entry["enabled"].(bool); ok {
			on = b
		}
		if on {
			enabled = append(enabled, name)
		} else {
			disabled = append(disabled, name)
		}
	}
	sort.Strings(enabled)
	sort.Strings(disabled)
	if len(enabled) > 0 {
		out["enabled_entries"] = enabled
	}
	if len(disabled) > 0 {
		out["disabled_entries"] = disabled
	}
	return out
}

func projectGateway(gw map[string]any) map[string]any {
	out := map[string]any{}
	copyScalars(out, gw, "port", "mode", "bind")
	if auth := mapAt(gw, "auth"); auth != nil {
		if mode := stringAt(auth, "mode"); mode != "" {
			out["auth_mode"] = mode
		}
	}
	return out
}

func projectTools(tools map[string]any) map[string]any {
	out := map[string]any{}
	copyScalars(out, tools, "profile")
	for _, k := range []string{"allow", "deny"} {
		if list, ok := tools[k].([]any); ok {
			out[k] = list
		}
	}
	return out
}

func mapAt(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

func stringAt(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// copyScalars copies string, number and bool fields only.
func copyScalars(dst, src map[string]any, keys ...string) {
	for _, k := range keys {
		switch v := src[k].(type) {
		case string, bool, float64, int, int64:
			dst[k] = v
		}
	}
}
