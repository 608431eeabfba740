//go:build unix

package local

import (
	"io/fs"
	"strconv"
	"syscall"
)

// owner returns the numeric uid of the file owner.
func owner(fi fs.FileInfo) string {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return strconv.FormatUint(uint64(st.Uid), 10)
	}
	return ""
}
