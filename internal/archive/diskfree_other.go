//go:build !unix

package archive

import "errors"

func diskFree(string) (int64, error) {
	return 0, errors.New("free space detection not supported on this platform")
}
