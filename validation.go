package transcodine

import "fmt"

// Input validation helpers shared by the storage layers.

// validateStorageKey checks a 32-byte storage key (KEK, database key, or
// bin key).
func validateStorageKey(key []byte, name string) error {
	if key == nil {
		return &ValidationError{Field: name, Message: "key cannot be nil"}
	}
	if len(key) != KeySize {
		return &ValidationError{
			Field:   name,
			Value:   len(key),
			Message: fmt.Sprintf("storage keys are %d bytes, got %d", KeySize, len(key)),
		}
	}
	return nil
}

// validateBinID checks a 16-byte base62 bin identifier.
func validateBinID(id []byte) error {
	if len(id) != BinIDSize {
		return &ValidationError{
			Field:   "id",
			Value:   len(id),
			Message: fmt.Sprintf("bin ids are %d bytes, got %d", BinIDSize, len(id)),
		}
	}
	for _, c := range id {
		ok := (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
		if !ok {
			return &ValidationError{
				Field:   "id",
				Value:   string(id),
				Message: "bin ids contain only [A-Za-z0-9]",
			}
		}
	}
	return nil
}

// validateBinName checks a user-visible bin filename. Names become path
// components under the bins directory, so separators are rejected along
// with the namespace delimiter.
func validateBinName(name string) error {
	if name == "" {
		return &ValidationError{Field: "name", Message: "bin name cannot be empty"}
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == ':' || name[i] == 0 {
			return &ValidationError{
				Field:   "name",
				Value:   name,
				Message: "bin name cannot contain '/', ':' or NUL",
			}
		}
	}
	return nil
}
