package rules

import (
	"fmt"

	"github.com/xkilldash9x/sinkscan/internal/analysis/core"
	"github.com/xkilldash9x/sinkscan/internal/analysis/static/javascript"
)

// InsecureStorageRule flags credentials kept in Web Storage, where any script on the
// origin can read them.
type InsecureStorageRule struct {
	baseRule
}

// NewInsecureStorageRule creates the rule.
func NewInsecureStorageRule() *InsecureStorageRule {
	return &InsecureStorageRule{baseRule{meta: Metadata{
		ID:          "InsecureStorageRule",
		Name:        "Credential in Web Storage",
		Description: "localStorage and sessionStorage are readable by every script on the page, including injected ones.",
		Severity:    core.SeverityMedium,
		Remediation: "Keep secrets out of client storage; use HttpOnly, Secure cookies or an in-memory token.",
		CWE:         "CWE-922",
	}}}
}

// Match implements Rule.
func (r *InsecureStorageRule) Match(node *javascript.Node) []core.Finding {
	def, ok := sinkCall(node)
	if !ok || def.Name != "storage" {
		return nil
	}
	args := javascript.Arguments(node)
	if len(args) == 0 {
		return nil
	}
	key := args[0]
	if key.Kind != javascript.KindStringLiteral || key.Interpolated() || !javascript.LooksLikeCredentialKey(key.Name) {
		return nil
	}
	method := javascript.PropertyName(node.ChildByField(javascript.FieldCallee))
	return one(r.finding(node, core.SeverityMedium,
		fmt.Sprintf("Web Storage %s() handles the credential key %q", method, key.Name)))
}
