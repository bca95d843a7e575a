//go:build linux

// File layout mirrors backend/local's per-platform split: the parts of
// fattr that only stat(2)/lstat(2) can answer live here and in
// flags_other.go, while fattr.go stays free of OS-specific imports.
// BSD/Darwin use a differently-shaped Stat_t (Mtimespec, st_flags) and
// would need their own stat_bsd.go; csup's deployment targets are
// Linux, so that file is not built out here.
package fattr

import (
	"fmt"
	"os/user"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// FromPath builds an Attr describing path. When follow is false, a
// symlink is reported as TypeSymlink with its target in Link rather
// than being followed, matching fileattr_fromstat's lstat semantics.
func FromPath(path string, follow bool) (*Attr, error) {
	var st unix.Stat_t
	var err error
	if follow {
		err = unix.Stat(path, &st)
	} else {
		err = unix.Lstat(path, &st)
	}
	if err != nil {
		return nil, fmt.Errorf("fattr: stat %s: %w", path, err)
	}

	a := &Attr{Mask: Type | ModTime | Mode | LinkCount | Dev | Inode}
	a.ModTime = st.Mtim.Sec
	a.Links = uint64(st.Nlink)
	a.DevNo = uint64(st.Dev)
	a.InodeNo = uint64(st.Ino)
	a.Mode = uint32(st.Mode) & 0o7777

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFREG:
		a.FileType = TypeFile
		a.Mask |= Size
		a.Size = st.Size
	case unix.S_IFDIR:
		a.FileType = TypeDirectory
	case unix.S_IFLNK:
		a.FileType = TypeSymlink
		buf := make([]byte, unix.PathMax)
		n, err := unix.Readlink(path, buf)
		if err == nil {
			a.Mask |= LinkTarget
			a.Link = string(buf[:n])
		}
	case unix.S_IFCHR:
		a.FileType = TypeCharDev
		a.Mask |= RDev
		a.RDev = uint64(st.Rdev)
	case unix.S_IFBLK:
		a.FileType = TypeBlockDev
		a.Mask |= RDev
		a.RDev = uint64(st.Rdev)
	default:
		a.FileType = TypeUnknown
	}

	if u, err := user.LookupId(strconv.Itoa(int(st.Uid))); err == nil {
		a.Mask |= Owner
		a.Owner = u.Username
	}
	if g, err := user.LookupGroupId(strconv.Itoa(int(st.Gid))); err == nil {
		a.Mask |= Group
		a.Group = g.Name
	}

	if flags, ok := statFlags(&st); ok {
		a.Mask |= Flags
		a.Flags = flags
	}

	return a, nil
}

// lchtimes sets the modification time of path without following a
// trailing symlink, used by Install to apply ModTime on the
// about-to-be-renamed file.
func lchtimes(path string, mtime int64) error {
	ts := []unix.Timespec{
		{Sec: mtime, Nsec: 0},
		{Sec: mtime, Nsec: 0},
	}
	return unix.UtimesNanoAt(unix.AT_FDCWD, path, ts, unix.AT_SYMLINK_NOFOLLOW)
}

func lchown(path string, uid, gid int) error {
	return unix.Lchown(path, uid, gid)
}

func lchmod(path string, mode uint32) error {
	// Linux has no lchmod(2); permissions on symlinks themselves are
	// not meaningful there, so chmod the referent like the rest of the
	// toolchain does.
	return syscall.Chmod(path, mode)
}
