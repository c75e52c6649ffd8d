// Package receipt writes a JSON evidence record per invocation.
package receipt

// ReceiptSchemaVersion current
const ReceiptSchemaVersion = "1.0"

// Receipt structure
type Receipt struct {
	SchemaVersion string       `json:"schema_version"`
	OpID          string       `json:"op_id"`
	TsStart       string       `json:"ts_start"`
	TsEnd         string       `json:"ts_end"`
	Command       string       `json:"command"`
	Args          []string     `json:"args"`
	ArgsRedacted  bool         `json:"args_redacted,omitempty"`
	Result        Result       `json:"result"`
	Config        *FileRef     `json:"config,omitempty"`
	Sets          []SetSummary `json:"sets,omitempty"`
}

// Result status
type Result struct {
	Status string `json:"status"` // "success" or "fail"
	Error  string `json:"error,omitempty"`
}

// FileRef detail
type FileRef struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256,omitempty"`
}

// SetSummary of one refresh set
type SetSummary struct {
	Name     string          `json:"name"`
	Status   string          `json:"status"` // ok|skipped|failed
	Error    string          `json:"error,omitempty"`
	Format   string          `json:"format,omitempty"`
	Entities map[string]int  `json:"entities,omitempty"`
	Sources  []SourceSummary `json:"sources,omitempty"`
	Drift    *DriftSummary   `json:"drift,omitempty"`
	Policy   *PolicySummary  `json:"policy,omitempty"`
}

// SourceSummary of one source within a set
type SourceSummary struct {
	Src      string `json:"src"`
	Outcome  string `json:"outcome"`
	Entities int    `json:"entities"`
	Cached   int    `json:"cached,omitempty"`
	Error    string `json:"error,omitempty"`
}

// DriftSummary detail
type DriftSummary struct {
	Added    int `json:"added"`
	Removed  int `json:"removed"`
	Changed  int `json:"changed"`
	Critical int `json:"critical"`
}

// PolicySummary detail
type PolicySummary struct {
	Preset string   `json:"preset,omitempty"`
	Status string   `json:"status"` // pass|fail
	Failed []string `json:"failed,omitempty"`
}
