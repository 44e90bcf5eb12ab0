package bodyquery

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// queryRegex collects matches of expr. A pattern without groups yields the
// whole match, one unnamed group yields that group, and named groups yield
// a map of name to submatch.
func queryRegex(c *collector, body []byte, expr string) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("invalid regex: %w", err)
	}

	names := re.SubexpNames()
	named := false
	for _, n := range names {
		if n != "" {
			named = true
			break
		}
	}

	for _, m := range re.FindAllSubmatch(body, -1) {
		var v any
		switch {
		case named:
			groups := make(map[string]any)
			for i, n := range names {
				if n != "" {
					groups[n] = string(m[i])
				}
			}
			v = groups
		case len(m) > 1:
			v = string(m[1])
		default:
			v = string(m[0])
		}
		if !c.add(v) {
			break
		}
	}
	return nil
}

// queryForm reads a form-urlencoded body. "*" returns every field as one
// object, with repeated keys as arrays; any other expression is a key name
// whose values are returned in order.
func queryForm(c *collector, body []byte, key string) error {
	values, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil {
		return fmt.Errorf("parsing form data: %w", err)
	}

	if key != "*" {
		for _, v := range values[key] {
			if !c.add(v) {
				break
			}
		}
		return nil
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	all := make(map[string]any, len(keys))
	for _, k := range keys {
		if vs := values[k]; len(vs) == 1 {
			all[k] = vs[0]
		} else {
			list := make([]any, len(vs))
			for i, v := range vs {
				list[i] = v
			}
			all[k] = list
		}
	}
	c.add(all)
	return nil
}
