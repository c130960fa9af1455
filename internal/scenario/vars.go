package scenario

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/torosent/crankworker/internal/runner"
)

// userIDVar always expands to the simulated user's id.
const userIDVar = "user_id"

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

func hasPlaceholders(s string) bool {
	return strings.Contains(s, "{{")
}

// expand replaces {{name}} with values saved by earlier checks of the same
// user. Unknown names are left untouched.
func expand(s string, u *runner.UserContext) string {
	if !hasPlaceholders(s) {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		key := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := u.Values[key]; ok {
			return fmt.Sprint(v)
		}
		if key == userIDVar {
			return u.ID
		}
		return m
	})
}

func save(u *runner.UserContext, key, value string) {
	if u.Values == nil {
		u.Values = make(map[string]any)
	}
	u.Values[key] = value
}
