//go:build linux

package address

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func openNoFollow(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDONLY|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
}

// checkOwnership inspects the already opened descriptor so the checked file is the read file.
func checkOwnership(f *os.File, ownerUID int) error {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return err
	}
	if st.Mode&unix.S_IFMT != unix.S_IFREG {
		return fmt.Errorf("not a regular file")
	}
	if int(st.Uid) != ownerUID {
		return fmt.Errorf("owned by uid %d, want %d", st.Uid, ownerUID)
	}
	if perm := st.Mode & 0o7777; perm&^0o600 != 0 {
		return fmt.Errorf("mode %04o allows more than owner read/write", perm)
	}
	return nil
}
