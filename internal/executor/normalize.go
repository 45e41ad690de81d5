package executor

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/agentgate/internal/a2a"
)

// PartsToText renders message parts as a single text line. Text parts join
// with spaces in order; file parts become a bracketed placeholder naming the
// locator or byte count, never the payload. Unrecognized kinds are dropped
// with a warning.
func PartsToText(parts []a2a.Part) string {
	var rendered []string
	for _, p := range parts {
		switch p.Kind {
		case a2a.PartKindText:
			rendered = append(rendered, p.Text)
		case a2a.PartKindFile:
			if p.File == nil {
				slog.Warn("file part without file content, skipping")
				continue
			}
			if p.File.URI != "" {
				rendered = append(rendered, fmt.Sprintf("[File: %s]", p.File.URI))
			} else {
				rendered = append(rendered, fmt.Sprintf("[File: %d bytes]", len(p.File.Bytes)))
			}
		default:
			slog.Warn("unsupported part kind, skipping", "kind", p.Kind)
		}
	}
	return strings.Join(rendered, " ")
}
