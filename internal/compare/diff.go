package compare

import (
	"sort"
	"strings"

	"github.com/usestring/trafficlab/pkg/types"
)

// Options tunes a response comparison.
type Options struct {
	// IgnoreHeaders are matched case-insensitively and reported under
	// HeaderDiff.Ignored instead of added/removed/changed.
	IgnoreHeaders []string
}

// Responses compares a replayed response with the original one. Header keys
// are compared case-sensitively; a key that only differs in case counts as
// removed on one side and added on the other.
func Responses(replayID string, original, replayed *types.ReplayResponse, opts Options) *types.ResponseDiff {
	if original == nil || replayed == nil {
		return nil
	}
	return &types.ResponseDiff{
		ReplayID:       replayID,
		StatusMatch:    original.Status == replayed.Status,
		OriginalStatus: original.Status,
		ReplayStatus:   replayed.Status,
		Headers:        Headers(original.Headers, replayed.Headers, opts.IgnoreHeaders),
		BodyMatch:      original.Body == replayed.Body,
		BodySizeDelta:  len(replayed.Body) - len(original.Body),
		TimingDiffMs:   replayed.TimingMs - original.TimingMs,
	}
}

// Headers partitions the differences between two header maps. Every slice
// in the result is non-nil and sorted by name.
func Headers(original, replayed map[string]string, ignore []string) types.HeaderDiff {
	ignoreSet := make(map[string]struct{}, len(ignore))
	for _, h := range ignore {
		ignoreSet[strings.ToLower(h)] = struct{}{}
	}
	skip := func(name string) bool {
		_, ok := ignoreSet[strings.ToLower(name)]
		return ok
	}

	diff := types.HeaderDiff{
		Added:   []string{},
		Removed: []string{},
		Changed: []types.HeaderChange{},
	}
	var ignored []string

	// Missing and changed headers
	for name, ov := range original {
		rv, exists := replayed[name]
		if exists && rv == ov {
			continue
		}
		if skip(name) {
			ignored = append(ignored, name)
			continue
		}
		if !exists {
			diff.Removed = append(diff.Removed, name)
			continue
		}
		diff.Changed = append(diff.Changed, types.HeaderChange{Name: name, Original: ov, Replay: rv})
	}

	// Extra headers
	for name := range replayed {
		if _, exists := original[name]; exists {
			continue
		}
		if skip(name) {
			ignored = append(ignored, name)
			continue
		}
		diff.Added = append(diff.Added, name)
	}

	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Slice(diff.Changed, func(i, j int) bool { return diff.Changed[i].Name < diff.Changed[j].Name })
	if len(ignored) > 0 {
		sort.Strings(ignored)
		diff.Ignored = ignored
	}
	return diff
}
