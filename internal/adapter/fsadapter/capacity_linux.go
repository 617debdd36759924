//go:build linux

package fsadapter

import "syscall"

func diskCapacity(path string) (int64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, err
	}

	return int64(st.Blocks) * int64(st.Bsize), nil
}
