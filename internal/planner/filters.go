package planner

import (
	"regexp"
	"strings"
)

// genericPatterns match values too generic to be useful as search queries:
// HTML boilerplate, framework artifacts, bundler output, common paths.
var genericPatterns = []*regexp.Regexp{
	// HTML structure
	regexp.MustCompile(`^<html\s+lang=`),
	regexp.MustCompile(`^<meta\s+http-equiv=`),
	regexp.MustCompile(`^<meta\s+charset=`),
	regexp.MustCompile(`^<meta\s+name="viewport"`),
	regexp.MustCompile(`^<meta\s+name="robots"`),
	regexp.MustCompile(`^<!doctype\s+html>`),
	regexp.MustCompile(`^<div\s+class=`),
	regexp.MustCompile(`^<span\s+class=`),

	// Common headers and meta content
	regexp.MustCompile(`^x-ua-compatible`),
	regexp.MustCompile(`^content-type`),
	regexp.MustCompile(`^charset=utf-8`),

	// Generic JavaScript
	regexp.MustCompile(`^datalayer\s*=`),
	regexp.MustCompile(`^window\.`),
	regexp.MustCompile(`^document\.`),

	// Frontend frameworks and libraries
	regexp.MustCompile(`^jquery$`),
	regexp.MustCompile(`^bootstrap$`),
	regexp.MustCompile(`^font-?awesome$`),
	regexp.MustCompile(`^react$`),
	regexp.MustCompile(`^angular$`),
	regexp.MustCompile(`^vue$`),
	regexp.MustCompile(`^tailwind`),
	regexp.MustCompile(`^materialize`),
	regexp.MustCompile(`^foundation$`),
	regexp.MustCompile(`^bulma$`),
	regexp.MustCompile(`^semantic-ui`),
	regexp.MustCompile(`^normalize`),
	regexp.MustCompile(`^reset\.css`),
	regexp.MustCompile(`^ng-(app|controller|model|view|repeat)$`),
	regexp.MustCompile(`^v-(app|model|if|for)$`),
	regexp.MustCompile(`^data-react(root|id)$`),
	regexp.MustCompile(`^__next$`),
	regexp.MustCompile(`^__nuxt$`),
	regexp.MustCompile(`^app-root$`),
	regexp.MustCompile(`^mat-`),
	regexp.MustCompile(`^mdc?-`),
	regexp.MustCompile(`^btn$`),
	regexp.MustCompile(`^fa-`),
	regexp.MustCompile(`^glyphicon`),
	regexp.MustCompile(`^icon-`),
	regexp.MustCompile(`^polyfill`),
	regexp.MustCompile(`^webpack`),
	regexp.MustCompile(`^(main|vendor|runtime|chunk)\.\w+\.js$`),

	// Common CMS and package paths
	regexp.MustCompile(`^/wp-content/`),
	regexp.MustCompile(`^/wp-includes/`),
	regexp.MustCompile(`^/xmlrpc\.php`),
	regexp.MustCompile(`^/node_modules/`),
	regexp.MustCompile(`^/vendor/`),

	// Generic paths
	regexp.MustCompile(`^/(admin|api|login|home|index)$`),

	// Generic attributes
	regexp.MustCompile(`^class="`),
	regexp.MustCompile(`^id="`),
	regexp.MustCompile(`^style="`),
	regexp.MustCompile(`^no-js`),
}

// queryBlacklist holds terms that would match millions of unrelated sites.
var queryBlacklist = map[string]struct{}{}

func init() {
	terms := []string{
		// Common page elements
		"login", "logout", "register", "signup", "sign up", "sign in",
		"password", "email", "username", "submit", "search", "home",
		"index", "welcome", "dashboard", "admin", "settings", "profile",
		"contact", "about", "help", "faq", "terms", "privacy",

		// Common frameworks and brands
		"bootstrap", "jquery", "font-awesome", "fontawesome", "react",
		"angular", "vue", "tailwind", "materialize", "foundation",
		"twitter", "facebook", "google", "github", "linkedin",

		// Common CSS/JS artifact names
		"normalize", "reset", "polyfill", "vendor", "bundle", "chunk",
		"main.js", "app.js", "style.css", "main.css",

		// Common meta content
		"utf-8", "viewport", "robots", "description", "keywords",

		// Single common words
		"the", "and", "for", "with", "from", "that", "this",
	}
	for _, term := range terms {
		queryBlacklist[term] = struct{}{}
	}
}

// IsQueryBlacklisted reports whether a query value is too generic to be
// worth spending API credits on.
func IsQueryBlacklisted(value string) bool {
	if len(value) < 3 {
		return true
	}
	lower := strings.ToLower(strings.TrimSpace(value))
	if _, ok := queryBlacklist[lower]; ok {
		return true
	}
	for _, pattern := range genericPatterns {
		if pattern.MatchString(lower) {
			return true
		}
	}
	return false
}
