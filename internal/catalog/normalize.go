package catalog

import (
	"strings"

	"golang.org/x/text/width"
)

// Normalize trims a scanned code and folds full-width characters, which some
// scanners emit under East Asian keyboard layouts, to their ASCII forms.
func Normalize(code string) string {
	return strings.TrimSpace(width.Fold.String(code))
}
