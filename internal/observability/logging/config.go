package logging

// Config selects format, threshold and destination.
type Config struct {
	Format string
	Level  string
	Output string
}

// Formats
const (
	FormatText  = "text"
	FormatJSONL = "jsonl"
	FormatNone  = "none"
)

func DefaultConfig() Config {
	return Config{
		Format: FormatText,
		Level:  LevelInfo,
		Output: "stderr",
	}
}

const (
	LevelDebug  = "debug"
	LevelInfo   = "info"
	LevelNotice = "notice"
	LevelWarn   = "warn"
	LevelError  = "error"
)

func levelPriority(level string) int {
	switch level {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelNotice:
		return 2
	case LevelWarn:
		return 3
	case LevelError:
		return 4
	default:
		return 1 // default to info
	}
}
