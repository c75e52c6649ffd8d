package differ

import (
	"strings"

	"github.com/wI2L/jsondiff"
)

// SeverityLevel 0=safe, 1=mod, 2=crit
type SeverityLevel int

const (
	SeveritySafe SeverityLevel = iota
	SeverityModerate
	SeverityCritical
)

// fields whose change affects trust or message routing
var (
	criticalFields = []string{"keys", "certData", "certFingerprint", "metarefresh:src"}
	endpointFields = []string{
		"SingleSignOnService", "SingleLogoutService", "ArtifactResolutionService",
		"AssertionConsumerService", "AttributeService", "scope",
	}
	cosmeticFields = []string{
		"name", "description", "UIInfo", "OrganizationName", "OrganizationDisplayName",
		"OrganizationURL", "contacts", "DiscoHints",
	}
)

// Translate patches to english, returning the highest severity.
func Translate(patch jsondiff.Patch) ([]string, SeverityLevel) {
	if len(patch) == 0 {
		return nil, SeveritySafe
	}

	var translations []string
	severity := SeveritySafe
	seen := make(map[string]bool)

	for _, op := range patch {
		msg, level := translateOperation(op)
		if level > severity {
			severity = level
		}
		if msg != "" && !seen[msg] {
			seen[msg] = true
			translations = append(translations, msg)
		}
	}
	return translations, severity
}

func translateOperation(op jsondiff.Operation) (string, SeverityLevel) {
	field := topField(op.Path)

	switch {
	case contains(criticalFields, field):
		if field == "metarefresh:src" {
			return "CRITICAL: entity now comes from a different source.", SeverityCritical
		}
		return "CRITICAL: keys changed.", SeverityCritical
	case contains(endpointFields, field):
		return verb(op.Type) + " endpoint '" + field + "'.", SeverityModerate
	case contains(cosmeticFields, field):
		return "Display information '" + field + "' updated.", SeveritySafe
	}

	if field == "" {
		return "Record replaced.", SeverityModerate
	}
	return verb(op.Type) + " '" + field + "'.", SeverityModerate
}

func verb(opType string) string {
	switch opType {
	case jsondiff.OperationAdd:
		return "Added"
	case jsondiff.OperationRemove:
		return "Removed"
	}
	return "Changed"
}

// topField returns the first segment of a JSON pointer, unescaped.
func topField(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	path = strings.ReplaceAll(path, "~1", "/")
	return strings.ReplaceAll(path, "~0", "~")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
