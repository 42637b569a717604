package secrets

// MergeFunctionKeys builds the union of a function's own keys and the host's
// function keys. Function-scoped keys take precedence on name collision.
func MergeFunctionKeys(functionKeys map[string]string, hostFunctionKeys map[string]string) map[string]string {
	merged := make(map[string]string, len(functionKeys)+len(hostFunctionKeys))
	for name, value := range hostFunctionKeys {
		merged[name] = value
	}
	for name, value := range functionKeys {
		merged[name] = value
	}
	return merged
}

// KeysToMap projects a key list to a name/value map.
func KeysToMap(keys []Key) map[string]string {
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		out[key.Name] = key.Value
	}
	return out
}
