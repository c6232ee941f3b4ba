// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import (
	"context"
	"strings"

	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/redact"
)

// FormatWithContextTags formats the string and prepends the context
// tags.
//
// Redaction markers are *not* inserted. The resulting
// string is generally unsafe for reporting.
func FormatWithContextTags(ctx context.Context, format string, args ...interface{}) string {
	var buf strings.Builder
	if tags := formatTags(ctx); tags != "" {
		buf.WriteByte('[')
		buf.WriteString(tags)
		buf.WriteString("] ")
	}
	buf.WriteString(renderArgs(false /* redactable */, format, args...))
	return buf.String()
}

// formatTags renders the logtags attached to ctx, without brackets.
func formatTags(ctx context.Context) string {
	tags := logtags.FromContext(ctx)
	if tags == nil {
		return ""
	}
	return tags.String()
}

func renderArgs(redactable bool, format string, args ...interface{}) string {
	var s redact.RedactableString
	if len(args) == 0 {
		s = redact.Sprint(redact.Safe(format))
	} else {
		s = redact.Sprintf(format, args...)
	}
	if redactable {
		return string(s)
	}
	return s.StripMarkers()
}
