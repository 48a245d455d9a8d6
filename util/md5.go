package util

import (
	"crypto/md5"
	"fmt"
)

// MD5Bytes hex md5 digest of data
func MD5Bytes(data []byte) string {
	return fmt.Sprintf("%x", md5.Sum(data))
}
