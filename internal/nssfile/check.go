package nssfile

import (
	"errors"
	"fmt"
)

// Check parses a published file set and reports every consistency problem
// an NSS consumer would trip over: bad names, duplicate names or ids,
// shadow lines that do not match passwd, unlocked hashes, and group members
// with no passwd entry.
func Check(passwd, group, shadow []byte) error {
	pw, err := ParsePasswd(passwd)
	if err != nil {
		return err
	}
	gr, err := ParseGroup(group)
	if err != nil {
		return err
	}
	sh, err := ParseShadow(shadow)
	if err != nil {
		return err
	}

	var errs []error
	users := map[string]bool{}
	uids := map[int]string{}
	for _, e := range pw {
		if !ValidName(e.Name) {
			errs = append(errs, fmt.Errorf("passwd: invalid name %q", e.Name))
		}
		if users[e.Name] {
			errs = append(errs, fmt.Errorf("passwd: duplicate name %q", e.Name))
		}
		users[e.Name] = true
		if other, ok := uids[e.UID]; ok {
			errs = append(errs, fmt.Errorf("passwd: uid %d used by %s and %s", e.UID, other, e.Name))
		}
		uids[e.UID] = e.Name
	}

	shadowed := map[string]bool{}
	for _, e := range sh {
		if !users[e.Name] {
			errs = append(errs, fmt.Errorf("shadow: %q has no passwd entry", e.Name))
		}
		if e.Hash != LockedHash {
			errs = append(errs, fmt.Errorf("shadow: %q is not locked", e.Name))
		}
		shadowed[e.Name] = true
	}
	for name := range users {
		if !shadowed[name] {
			errs = append(errs, fmt.Errorf("passwd: %q has no shadow entry", name))
		}
	}

	groups := map[string]bool{}
	gids := map[int]string{}
	for _, e := range gr {
		if !ValidName(e.Name) {
			errs = append(errs, fmt.Errorf("group: invalid name %q", e.Name))
		}
		if groups[e.Name] {
			errs = append(errs, fmt.Errorf("group: duplicate name %q", e.Name))
		}
		groups[e.Name] = true
		if other, ok := gids[e.GID]; ok {
			errs = append(errs, fmt.Errorf("group: gid %d used by %s and %s", e.GID, other, e.Name))
		}
		gids[e.GID] = e.Name
		for _, m := range e.Members {
			if !users[m] {
				errs = append(errs, fmt.Errorf("group %s: member %q has no passwd entry", e.Name, m))
			}
		}
	}
	return errors.Join(errs...)
}
