package services

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"github.com/sitephoto/server/internal/models"
)

var fingerprintRegex = regexp.MustCompile(`^[a-f0-9]{64}$`)

// Fingerprint derives the stable identity of a QC photo from its business
// key. Dynamic field values are compared trimmed and upper-cased and keys are
// sorted, so the result ignores map order, case and surrounding whitespace.
func Fingerprint(projectID, category, topic string, fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+models.NormalizeFieldValue(fields[k]))
	}

	key := strings.Join([]string{projectID, category, topic, strings.Join(pairs, "&")}, "|")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// RecordFingerprint is the fingerprint of a stored record
func RecordFingerprint(r *models.PhotoRecord) string {
	return Fingerprint(r.ProjectID, r.Category.String(), r.Topic, r.DynamicFields)
}

// IsValidFingerprint checks the lowercase hex SHA-256 form
func IsValidFingerprint(fp string) bool {
	return fingerprintRegex.MatchString(fp)
}
