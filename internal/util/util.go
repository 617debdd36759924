package util

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
)

var safeNameRegexp = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

func GetIDFromString(str *string) string {
	hasher := sha1.New()
	hasher.Write([]byte(*str))

	return hex.EncodeToString(hasher.Sum(nil))
}

// FileNameFromID returns id itself when it is a safe file name, otherwise its sha1 hex.
func FileNameFromID(id string) string {
	if safeNameRegexp.MatchString(id) {
		return id
	}

	return GetIDFromString(&id)
}
