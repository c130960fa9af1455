package scenario

import (
	"fmt"
	"regexp"

	"github.com/tidwall/gjson"
)

// CheckError reports a response that did not satisfy a check.
type CheckError struct {
	Check  string
	Reason string
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("check %s: %s", e.Check, e.Reason)
}

type check struct {
	label  string
	save   string
	json   string
	regex  *regexp.Regexp
	equals *string
}

func newCheck(cs CheckSpec) (check, error) {
	c := check{equals: cs.Equals, save: cs.Save}
	if cs.Regex != "" {
		re, err := regexp.Compile(cs.Regex)
		if err != nil {
			return check{}, err
		}
		c.regex = re
		c.label = "regex " + cs.Regex
		return c, nil
	}
	c.json = jsonPath(cs.JSON)
	c.label = "json " + cs.JSON
	return c, nil
}

// jsonPath accepts both $.field and field syntax.
func jsonPath(path string) string {
	if len(path) > 0 && path[0] == '$' {
		if len(path) > 1 && path[1] == '.' {
			return path[2:]
		}
		if len(path) == 1 {
			return "@this"
		}
	}
	return path
}

// verify returns the matched value.
func (c check) verify(body []byte) (string, error) {
	var value string
	if c.regex != nil {
		match := c.regex.FindSubmatch(body)
		if match == nil {
			return "", &CheckError{Check: c.label, Reason: "no match"}
		}
		// first capture group if present, otherwise the full match
		value = string(match[0])
		if len(match) > 1 {
			value = string(match[1])
		}
	} else {
		result := gjson.GetBytes(body, c.json)
		if !result.Exists() {
			return "", &CheckError{Check: c.label, Reason: "not found"}
		}
		value = result.String()
	}

	if c.equals != nil && value != *c.equals {
		return "", &CheckError{Check: c.label, Reason: fmt.Sprintf("got %q, want %q", value, *c.equals)}
	}
	return value, nil
}
