package storage

import (
	"fmt"
	"path"
	"strings"
)

const maxFilenameLength = 128

// BuildImageFilename composes the stored filename for an uploaded image as "<id>-<cleaned name>".
// Directory components and characters outside [A-Za-z0-9._-] are dropped from name.
func BuildImageFilename(id, name string) (string, error) {
	id, err := validateSegment("id", id)
	if err != nil {
		return "", err
	}
	cleaned := cleanFileName(name)

	filename := id + "-" + cleaned
	if len(filename) > maxFilenameLength {
		ext := path.Ext(cleaned)
		if len(ext) > 16 {
			ext = ""
		}
		keep := maxFilenameLength - len(id) - 1 - len(ext)
		if keep < 1 {
			return "", fmt.Errorf("storage: id %q is too long", id)
		}
		stem := strings.TrimSuffix(cleaned, path.Ext(cleaned))
		if len(stem) > keep {
			stem = stem[:keep]
		}
		filename = id + "-" + stem + ext
	}
	return filename, nil
}

func cleanFileName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	cleaned := b.String()
	for strings.Contains(cleaned, "..") {
		cleaned = strings.ReplaceAll(cleaned, "..", ".")
	}
	cleaned = strings.Trim(cleaned, ".-")
	if cleaned == "" {
		return "image"
	}
	return cleaned
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}

func validateFileName(value string) (string, error) {
	return validateSegment("fileName", value)
}
