package whitelist

import "strings"

// blockedPatterns are substrings of hint domains that must never be merged
// into the allow-set, regardless of what the discovery collaborator emits:
// AI assistants, search engines, social media, general code hosting and other
// non-contest destinations. Operator-listed whitelist entries are exempt;
// screening applies to hints only.
var blockedPatterns = []string{
	// AI assistants
	"openai", "chatgpt", "anthropic", "claude", "gemini", "copilot",
	// Search engines
	"google.com", "bing", "yahoo", "duckduckgo", "yandex", "baidu",
	// Social media
	"facebook", "twitter", "instagram", "linkedin", "reddit", "discord",
	"telegram", "whatsapp", "tiktok", "youtube", "snapchat",
	// Code hosting and Q&A
	"github.com", "gitlab", "stackoverflow", "stackexchange", "medium",
	"dev.to", "codepen", "jsfiddle",
	// Reference and courses
	"wikipedia", "w3schools", "tutorialspoint", "freecodecamp",
	"coursera", "udemy", "khanacademy",
	// Commerce, storage, news
	"amazon.com", "ebay", "aliexpress", "shopify",
	"dropbox", "onedrive", "icloud", "mega.nz",
	"cnn", "bbc", "reuters", "techcrunch",
}

// EssentialHints are dependency domains contest platforms commonly need:
// CDNs, fonts, captcha and math rendering. They are merged into every
// restriction alongside the operator's hints file.
var EssentialHints = []string{
	"cloudflare.com", "cloudfront.net", "fastly.com",
	"jsdelivr.net", "unpkg.com", "cdnjs.cloudflare.com",
	"fonts.googleapis.com", "fonts.gstatic.com", "typekit.net",
	"recaptcha.net", "hcaptcha.com", "gstatic.com",
	"mathjax.org", "cdn.mathjax.org",
	"ajax.googleapis.com",
}

// LoadHints merges the built-in essential hints with the optional operator
// hints file. A missing or unreadable file yields just the built-ins. The
// returned list is normalized and deduplicated; screening happens at
// resolution time.
func LoadHints(path string) []string {
	seen := make(map[string]struct{})
	var hints []string
	add := func(raw string) {
		d, err := Normalize(raw)
		if err != nil {
			return
		}
		if _, ok := seen[d]; ok {
			return
		}
		seen[d] = struct{}{}
		hints = append(hints, d)
	}

	for _, h := range EssentialHints {
		add(h)
	}
	if path != "" {
		if wl, err := Load(path); err == nil {
			for _, d := range wl.Domains() {
				add(d)
			}
		}
	}
	return hints
}

// Blocked reports whether a hint domain matches the blocklist.
func Blocked(domain string) bool {
	d := strings.ToLower(domain)
	for _, p := range blockedPatterns {
		if strings.Contains(d, p) {
			return true
		}
	}
	return false
}

// Screen partitions hint domains into those safe to merge and those dropped
// by the blocklist. Invalid entries are counted as dropped too.
func Screen(hints []string) (kept, dropped []string) {
	for _, h := range hints {
		d, err := Normalize(h)
		if err != nil {
			dropped = append(dropped, h)
			continue
		}
		if Blocked(d) {
			dropped = append(dropped, d)
			continue
		}
		kept = append(kept, d)
	}
	return kept, dropped
}
