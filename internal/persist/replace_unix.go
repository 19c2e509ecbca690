//go:build !windows

package persist

import "os"

func replaceFile(from, to string) error { return os.Rename(from, to) }
