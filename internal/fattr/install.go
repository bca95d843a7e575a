package fattr

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
)

// Install applies a's changeable fields (owner, group, mode, modtime)
// to frompath and then renames it into place at topath, applying flags
// last since they frequently include immutable-style bits that would
// block the rename if set beforehand. With frompath == "" the
// attributes are applied directly to topath instead (no rename), the
// "changing attributes in place" case, and a no-op is detected up
// front by comparing against topath's current attributes. It reports
// whether anything was actually changed, mirroring fattr_install's 0
// (unchanged) vs 1 (changed) return; a -1 return there becomes a plain
// error here.
func (a *Attr) Install(frompath, topath string) (bool, error) {
	inplace := frompath == ""
	if inplace {
		frompath = topath
	}

	old, err := FromPath(topath, false)
	if err != nil {
		return false, fmt.Errorf("fattr: stat %s: %w", topath, err)
	}
	if inplace && Cmp(a, old) == 0 {
		return false, nil
	}

	if old.Mask&Flags != 0 && old.Flags > 0 {
		chflags(topath, 0)
	}
	if !inplace && (a.FileType == TypeDirectory) != (old.FileType == TypeDirectory) {
		os.Remove(topath)
	}

	if a.Mask&ModTime != 0 {
		if err := lchtimes(frompath, a.ModTime); err != nil {
			return false, fmt.Errorf("fattr: utimes %s: %w", frompath, err)
		}
	}

	if a.Mask&Owner != 0 || a.Mask&Group != 0 {
		uid, gid := -1, -1
		if a.Mask&Owner != 0 {
			if u, err := user.Lookup(a.Owner); err == nil {
				if n, err := strconv.Atoi(u.Uid); err == nil {
					uid = n
				}
			}
		}
		if a.Mask&Group != 0 {
			if g, err := user.LookupGroup(a.Group); err == nil {
				if n, err := strconv.Atoi(g.Gid); err == nil {
					gid = n
				}
			}
		}
		if err := lchown(frompath, uid, gid); err != nil {
			return false, fmt.Errorf("fattr: chown %s: %w", frompath, err)
		}
	}

	if a.Mask&Mode != 0 {
		modemask := a.PermMask()
		newmode := a.Mode & modemask
		// Merge in the set-id bits from the file's current mode when a
		// doesn't carry both an owner and a group (and so didn't
		// contribute its own set-id decision to modemask).
		if old.Mask&Mode != 0 {
			newmode |= old.Mode &^ modemask
		}
		newmode &= 0o7777
		if err := lchmod(frompath, newmode); err != nil {
			return false, fmt.Errorf("fattr: chmod %s: %w", frompath, err)
		}
	}

	if !inplace {
		if err := os.Rename(frompath, topath); err != nil {
			return false, fmt.Errorf("fattr: rename %s to %s: %w", frompath, topath, err)
		}
	}

	if a.Mask&Flags != 0 {
		if err := chflags(topath, a.Flags); err != nil {
			return false, fmt.Errorf("fattr: chflags %s: %w", topath, err)
		}
	}
	return true, nil
}
