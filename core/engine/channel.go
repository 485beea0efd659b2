package engine

// ChannelName derives the notification channel for a table: the table name
// with every character outside [A-Za-z0-9] replaced by '_', suffixed with
// "_change". Channel, function and trigger names must all be valid engine
// identifiers, so the same sanitized stem is reused for each.
func ChannelName(table string) string {
	return SanitizeIdentifier(table) + "_change"
}

// SanitizeIdentifier replaces every character outside [A-Za-z0-9] with '_'.
func SanitizeIdentifier(name string) string {
	out := []byte(name)
	for i := 0; i < len(out); i++ {
		c := out[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
