// Filename: javascript/definitions.go
// Package javascript provides static analysis capabilities for client side JavaScript.
// This file contains the definitions of known sinks, URL sources and ownership guards.
package javascript

import "strings"

// TaintSource names a browser API that exposes attacker-controlled URL data.
type TaintSource string

// SinkType categorizes the impact of a sink.
type SinkType string

const (
	SinkTypeExecution     SinkType = "Code Execution"
	SinkTypeHTMLInjection SinkType = "DOM XSS (HTML Injection)"
	SinkTypeDataLeak      SinkType = "Data Leakage"
)

// Known URL sources (DOM/Browser APIs).
const (
	SourceLocationHash   TaintSource = "location.hash"
	SourceLocationSearch TaintSource = "location.search"
	SourceLocationHref   TaintSource = "location.href"
	SourceDocumentURL    TaintSource = "document.URL"
	SourceQueryParameter TaintSource = "query parameter"
)

// SinkDefinition provides metadata about a specific sink.
type SinkDefinition struct {
	Name string
	Type SinkType
	// TaintedArgs lists the sensitive argument indices of a call. Empty means every
	// argument is sensitive.
	TaintedArgs []int
}

// SensitiveArgs picks the arguments of a call to this sink that TaintedArgs names.
func (d SinkDefinition) SensitiveArgs(args []*Node) []*Node {
	if len(d.TaintedArgs) == 0 {
		return args
	}
	out := make([]*Node, 0, len(d.TaintedArgs))
	for _, i := range d.TaintedArgs {
		if i >= 0 && i < len(args) {
			out = append(out, args[i])
		}
	}
	return out
}

// knownURLPropertySources maps property paths to the URL source they read.
var knownURLPropertySources = map[string]TaintSource{
	"location.hash":            SourceLocationHash,
	"location.search":          SourceLocationSearch,
	"location.href":            SourceLocationHref,
	"window.location.hash":     SourceLocationHash,
	"window.location.search":   SourceLocationSearch,
	"window.location.href":     SourceLocationHref,
	"document.location.hash":   SourceLocationHash,
	"document.location.search": SourceLocationSearch,
	"document.location.href":   SourceLocationHref,
	"document.URL":             SourceDocumentURL,
	"document.documentURI":     SourceDocumentURL,
}

// htmlSinkProperties are properties whose assignment parses the value as markup.
var htmlSinkProperties = map[string]SinkDefinition{
	"innerHTML": {Name: "innerHTML", Type: SinkTypeHTMLInjection},
	"outerHTML": {Name: "outerHTML", Type: SinkTypeHTMLInjection},
}

// knownSinkFunctions defines sinks reached through function calls, keyed by the full
// callee path. Lookups are exact so that obj.eval(...) is not mistaken for eval.
var knownSinkFunctions = map[string]SinkDefinition{
	// Execution
	"eval":                   {Name: "eval", Type: SinkTypeExecution, TaintedArgs: []int{0}},
	"window.eval":            {Name: "eval", Type: SinkTypeExecution, TaintedArgs: []int{0}},
	"globalThis.eval":        {Name: "eval", Type: SinkTypeExecution, TaintedArgs: []int{0}},
	"self.eval":              {Name: "eval", Type: SinkTypeExecution, TaintedArgs: []int{0}},
	"setTimeout":             {Name: "setTimeout", Type: SinkTypeExecution, TaintedArgs: []int{0}},
	"setInterval":            {Name: "setInterval", Type: SinkTypeExecution, TaintedArgs: []int{0}},
	"window.setTimeout":      {Name: "setTimeout", Type: SinkTypeExecution, TaintedArgs: []int{0}},
	"window.setInterval":     {Name: "setInterval", Type: SinkTypeExecution, TaintedArgs: []int{0}},
	"Function":               {Name: "Function", Type: SinkTypeExecution},
	"window.Function":        {Name: "Function", Type: SinkTypeExecution},
	"globalThis.Function":    {Name: "Function", Type: SinkTypeExecution},
	"document.write":         {Name: "document.write", Type: SinkTypeHTMLInjection},
	"document.writeln":       {Name: "document.write", Type: SinkTypeHTMLInjection},
	"window.document.write":  {Name: "document.write", Type: SinkTypeHTMLInjection},
	"localStorage.setItem":   {Name: "storage", Type: SinkTypeDataLeak, TaintedArgs: []int{0, 1}},
	"localStorage.getItem":   {Name: "storage", Type: SinkTypeDataLeak, TaintedArgs: []int{0}},
	"sessionStorage.setItem": {Name: "storage", Type: SinkTypeDataLeak, TaintedArgs: []int{0, 1}},
	"sessionStorage.getItem": {Name: "storage", Type: SinkTypeDataLeak, TaintedArgs: []int{0}},

	"window.localStorage.setItem":   {Name: "storage", Type: SinkTypeDataLeak, TaintedArgs: []int{0, 1}},
	"window.localStorage.getItem":   {Name: "storage", Type: SinkTypeDataLeak, TaintedArgs: []int{0}},
	"window.sessionStorage.setItem": {Name: "storage", Type: SinkTypeDataLeak, TaintedArgs: []int{0, 1}},
	"window.sessionStorage.getItem": {Name: "storage", Type: SinkTypeDataLeak, TaintedArgs: []int{0}},
}

// paramAccessorMethods read a single query parameter.
var paramAccessorMethods = map[string]bool{
	"get":    true,
	"getAll": true,
}

// paramObjectHints are name fragments of objects conventionally holding query parameters.
var paramObjectHints = []string{"param", "query", "search"}

// ownershipChecks are calls that establish a key is an own property of the source.
var ownershipChecks = map[string]bool{
	"hasOwnProperty":       true,
	"hasOwn":               true,
	"propertyIsEnumerable": true,
}

// dangerousKeys reach the prototype chain when used as a property name.
var dangerousKeys = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
}

// credentialKeyHints are fragments of storage keys that hold secrets.
var credentialKeyHints = []string{"password", "passwd", "pwd", "secret", "token", "apikey", "api_key", "credential"}

// CheckIfURLSource checks if a property access path reads URL data.
func CheckIfURLSource(path []string) (TaintSource, bool) {
	if len(path) == 0 {
		return "", false
	}
	source, ok := knownURLPropertySources[strings.Join(path, ".")]
	return source, ok
}

// CheckIfHTMLSinkProperty checks if a property name parses assigned values as markup.
func CheckIfHTMLSinkProperty(name string) (SinkDefinition, bool) {
	def, ok := htmlSinkProperties[name]
	return def, ok
}

// CheckIfSinkFunction checks if a callee path matches a known sink function.
func CheckIfSinkFunction(path []string) (SinkDefinition, bool) {
	if len(path) == 0 {
		return SinkDefinition{}, false
	}
	def, ok := knownSinkFunctions[strings.Join(path, ".")]
	return def, ok
}

// IsParamAccessorMethod reports whether name reads a query parameter (get, getAll).
func IsParamAccessorMethod(name string) bool {
	return paramAccessorMethods[name]
}

// LooksLikeParamObject reports whether an identifier name suggests a parameter bag
// (params, queryParams, searchParams, urlQuery...).
func LooksLikeParamObject(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range paramObjectHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// IsOwnershipCheck reports whether the last segment of a callee path is an
// own-property check.
func IsOwnershipCheck(path []string) bool {
	if len(path) == 0 {
		return false
	}
	return ownershipChecks[path[len(path)-1]]
}

// IsDangerousKey reports whether a property name reaches the prototype chain.
func IsDangerousKey(key string) bool {
	return dangerousKeys[key]
}

// LooksLikeCredentialKey reports whether a storage key names a secret.
func LooksLikeCredentialKey(key string) bool {
	lower := strings.ToLower(key)
	for _, hint := range credentialKeyHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// SanitizerSet is a caller-supplied list of functions that make a value safe for
// markup insertion. The zero value recognises nothing.
type SanitizerSet struct {
	names map[string]bool
}

// NewSanitizerSet builds a set from dotted function names such as "DOMPurify.sanitize".
func NewSanitizerSet(names []string) SanitizerSet {
	set := SanitizerSet{names: make(map[string]bool, len(names))}
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			set.names[name] = true
		}
	}
	return set
}

// Len returns the number of recognised sanitizers.
func (s SanitizerSet) Len() int { return len(s.names) }

// Matches checks a callee path against the set: the full path first, then the bare
// function name so that window.encodeURIComponent matches encodeURIComponent.
func (s SanitizerSet) Matches(path []string) bool {
	if len(path) == 0 || len(s.names) == 0 {
		return false
	}
	if s.names[strings.Join(path, ".")] {
		return true
	}
	return s.names[path[len(path)-1]]
}
