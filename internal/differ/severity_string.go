package differ

import "fmt"

var severityNames = map[SeverityLevel]string{
	SeveritySafe:     "info",
	SeverityModerate: "moderate",
	SeverityCritical: "critical",
}

// String is the lowercase name used in logs, receipts and JSON output.
func (s SeverityLevel) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the severity by name.
func (s SeverityLevel) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by String.
func (s *SeverityLevel) UnmarshalText(text []byte) error {
	level, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = level
	return nil
}

// ParseSeverity is the inverse of String.
func ParseSeverity(name string) (SeverityLevel, error) {
	for level, n := range severityNames {
		if n == name {
			return level, nil
		}
	}
	return SeveritySafe, fmt.Errorf("unknown severity %q", name)
}
