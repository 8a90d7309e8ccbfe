package core

import "strings"

// OverridesKey canonicalizes an ordered overrides list plus a flavors set
// into the string used to key OverrideMetadata, MergedConfig caches and
// wait_built coalescing. Overrides are order-sensitive (later entries win
// on conflicting keys, spec §1); flavors are not, so they are sorted
// before joining to make equivalent requests collide on the same key.
func OverridesKey(overrides []string, flavors []string) string {
	var b strings.Builder
	for i, o := range overrides {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(o)
	}
	b.WriteByte('\x1e')
	sorted := append([]string(nil), flavors...)
	sortStrings(sorted)
	for i, f := range sorted {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(f)
	}
	return b.String()
}

// sortStrings is a tiny insertion sort: flavor lists are small (a handful
// of entries at most) so avoiding a sort.Strings import keeps this
// dependency-free for a hot path called on every request.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// OverridePath canonicalizes a single override name plus the active
// flavors into the override-path string used to key OverrideMetadata
// within a document (spec glossary, "Override path").
func OverridePath(override string, flavors []string) string {
	return OverridesKey([]string{override}, flavors)
}

// HasDuplicates reports whether overrides contains the same entry twice,
// which ApiGet/ApiWatch must reject (spec §7 ErrInvalidArguments).
func HasDuplicates(overrides []string) bool {
	seen := make(map[string]struct{}, len(overrides))
	for _, o := range overrides {
		if _, ok := seen[o]; ok {
			return true
		}
		seen[o] = struct{}{}
	}
	return false
}
