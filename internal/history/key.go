package history

import "strings"

const keyPrefix = "chat_history_"

// Key derives the storage key scoping one conversation's history.
// subject is the conversation scope, usually "<profileID>_<mode>"; token
// contributes a stable short fingerprint so histories from different
// sessions of the same device stay apart. With neither, a shared default
// key is used.
func Key(token, subject string) string {
	sub := normalizeSubject(subject)
	fp := tokenFingerprint(token)
	switch {
	case sub != "" && fp != "":
		return keyPrefix + sub + "_" + fp
	case sub != "":
		return keyPrefix + sub
	case fp != "":
		return keyPrefix + fp
	default:
		return keyPrefix + "default"
	}
}

// normalizeSubject lowercases the subject and strips everything outside
// a-z, 0-9, and @._- so distinct alphanumeric identifiers cannot collide
// through the key encoding.
func normalizeSubject(subject string) string {
	subject = strings.ToLower(strings.TrimSpace(subject))
	var b strings.Builder
	for _, r := range subject {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '@' || r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// tokenFingerprint keeps the alphanumerics of the token's first 24
// characters. A token that leaves nothing after filtering still yields a
// marker so tokened and tokenless keys stay distinct.
func tokenFingerprint(token string) string {
	if token == "" {
		return ""
	}
	if len(token) > 24 {
		token = token[:24]
	}
	var b strings.Builder
	for _, r := range token {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "t"
	}
	return b.String()
}
