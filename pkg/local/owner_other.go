//go:build !unix

package local

import "io/fs"

func owner(fs.FileInfo) string {
	return ""
}
