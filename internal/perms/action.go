package perms

import (
	"fmt"
	"strings"
)

// ActionSet is a bitmask over the actions a login account may perform on an
// asset. The zero value grants nothing.
type ActionSet uint32

const (
	ActionConnect ActionSet = 1 << iota
	ActionUpload
	ActionDownload
	ActionCopy
	ActionPaste

	// ActionAll covers every defined action.
	ActionAll = ActionConnect | ActionUpload | ActionDownload | ActionCopy | ActionPaste
)

// actionNames is kept in bit order so decoded names are deterministic.
var actionNames = []struct {
	bit  ActionSet
	name string
}{
	{ActionConnect, "connect"},
	{ActionUpload, "upload"},
	{ActionDownload, "download"},
	{ActionCopy, "copy"},
	{ActionPaste, "paste"},
}

// ParseAction maps an action name to its bit.
func ParseAction(name string) (ActionSet, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "all" {
		return ActionAll, nil
	}
	for _, a := range actionNames {
		if a.name == name {
			return a.bit, nil
		}
	}
	return 0, fmt.Errorf("perms: unknown action %q", name)
}

// Union returns the most-permissive combination of both sets.
func (s ActionSet) Union(o ActionSet) ActionSet {
	return s | o
}

// Contains reports whether the named action is granted. Unknown names are
// never granted.
func (s ActionSet) Contains(name string) bool {
	bit, err := ParseAction(name)
	if err != nil {
		return false
	}
	return bit != 0 && s&bit == bit
}

// Names decodes the set into its granted action names, in bit order.
func (s ActionSet) Names() []string {
	names := make([]string, 0, len(actionNames))
	for _, a := range actionNames {
		if s&a.bit != 0 {
			names = append(names, a.name)
		}
	}
	return names
}

func (s ActionSet) String() string {
	if s == 0 {
		return "none"
	}
	return strings.Join(s.Names(), ",")
}
