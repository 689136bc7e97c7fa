package models

import "strconv"

func formatUID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ParseUID is the inverse of the uid assigned to accounts.
func ParseUID(uid string) (int64, error) {
	return strconv.ParseInt(uid, 10, 64)
}
