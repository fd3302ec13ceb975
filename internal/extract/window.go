package extract

import (
	"strings"
	"unicode"
)

// WindowConfig controls how long narratives are windowed for extraction
// calls. Offsets are rune-based so candidate spans map back to document
// character offsets.
type WindowConfig struct {
	MaxChars   int
	MinChars   int
	Overlap    int
	MaxWindows int
}

// DefaultWindowConfig provides sane defaults for extraction windowing.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		MaxChars:   4000,
		MinChars:   800,
		Overlap:    200,
		MaxWindows: 20,
	}
}

// Window is one extraction slice of a document. Offset is the rune offset
// of the slice's first character within the full document body.
type Window struct {
	Text   string
	Offset int
}

func windowText(text string, cfg WindowConfig) []Window {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if cfg.MaxChars <= 0 {
		cfg = DefaultWindowConfig()
	}
	runes := []rune(text)
	if len(runes) <= cfg.MaxChars {
		return []Window{{Text: text, Offset: 0}}
	}

	windows := make([]Window, 0, 4)
	start := 0
	for start < len(runes) {
		if cfg.MaxWindows > 0 && len(windows) >= cfg.MaxWindows {
			break
		}

		end := start + cfg.MaxChars
		if end > len(runes) {
			end = len(runes)
		}

		// Prefer cutting at whitespace so quotes are not bisected mid-word.
		if end < len(runes) {
			cut := end
			minCut := start + cfg.MinChars
			if minCut > end {
				minCut = start
			}
			for i := end; i > minCut; i-- {
				if unicode.IsSpace(runes[i-1]) {
					cut = i
					break
				}
			}
			end = cut
		}

		if end <= start {
			break
		}

		windows = append(windows, Window{
			Text:   string(runes[start:end]),
			Offset: start,
		})

		if end >= len(runes) {
			break
		}

		nextStart := end
		if cfg.Overlap > 0 && end-start > cfg.Overlap {
			nextStart = end - cfg.Overlap
		}
		if nextStart <= start {
			nextStart = end
		}
		start = nextStart
	}

	return windows
}
