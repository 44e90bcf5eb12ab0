package replay

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// applyBodyPatches sets each path in patches on a JSON body. Paths use
// sjson syntax ("user.name", "items.0.id", "tags.-1" to append); a nil value
// deletes the path. Paths are applied in sorted order.
func applyBodyPatches(body string, patches map[string]any) (string, error) {
	if len(patches) == 0 {
		return body, nil
	}
	if strings.TrimSpace(body) == "" {
		body = "{}"
	}
	if !gjson.Valid(body) {
		return "", fmt.Errorf("%w: body patches require a JSON body", ErrInvalidConfig)
	}

	paths := make([]string, 0, len(patches))
	for p := range patches {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var err error
	for _, p := range paths {
		if v := patches[p]; v == nil {
			body, err = sjson.Delete(body, p)
		} else {
			body, err = sjson.Set(body, p, v)
		}
		if err != nil {
			return "", fmt.Errorf("%w: patch %q: %v", ErrInvalidConfig, p, err)
		}
	}
	return body, nil
}
