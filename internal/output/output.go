// Package output provides styled terminal output helpers (success, error,
// warning, record formatting) using lipgloss.
package output

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/marcus/objsync/pkg/remote"
	"golang.org/x/term"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	classStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	keyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))
)

const defaultWidth = 80

// OutputMode determines output format
type OutputMode int

const (
	ModeShort OutputMode = iota
	ModeLong
	ModeJSON
)

// Success prints a success message
func Success(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, errorStyle.Render("ERROR: "+fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, warningStyle.Render("Warning: "+fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format+"\n", args...)
}

// JSON outputs data as indented JSON
func JSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound       = "not_found"
	ErrCodeInvalidInput   = "invalid_input"
	ErrCodeNotLoggedIn    = "not_logged_in"
	ErrCodeConfig         = "config_error"
	ErrCodeTransport      = "transport_error"
	ErrCodeServer         = "server_error"
	ErrCodeBatchFailed    = "batch_failed"
	ErrCodeUnknown        = "error"
	ErrCodeInvalidSession = "invalid_session"
)

// ErrorCode classifies err for JSON error output.
func ErrorCode(err error) string {
	var (
		apiErr *remote.Error
		tErr   *remote.TransportError
		agg    *remote.AggregateError
	)
	switch {
	case err == nil:
		return ""
	case remote.IsCode(err, remote.ObjectNotFound):
		return ErrCodeNotFound
	case remote.IsCode(err, remote.InvalidSessionToken):
		return ErrCodeInvalidSession
	case errors.Is(err, remote.ErrNotLoggedIn):
		return ErrCodeNotLoggedIn
	case errors.Is(err, remote.ErrNotInitialized):
		return ErrCodeConfig
	case errors.Is(err, remote.ErrInvalidValue), errors.Is(err, remote.ErrInvalidQuery):
		return ErrCodeInvalidInput
	case errors.As(err, &agg):
		return ErrCodeBatchFailed
	case errors.As(err, &tErr):
		return ErrCodeTransport
	case errors.As(err, &apiErr):
		return ErrCodeServer
	}
	return ErrCodeUnknown
}

// JSONError outputs an error as JSON
func JSONError(w io.Writer, code, message string) {
	JSONErrorWithDetails(w, code, message, nil)
}

// JSONErrorWithDetails outputs an error as JSON with additional context
func JSONErrorWithDetails(w io.Writer, code, message string, details map[string]any) {
	errObj := map[string]any{
		"code":    code,
		"message": message,
	}
	if len(details) > 0 {
		errObj["details"] = details
	}
	data, _ := json.Marshal(map[string]any{"error": errObj})
	fmt.Fprintln(w, string(data))
}

// FormatValue renders a decoded field value on one line.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case []byte:
		return "base64:" + base64.StdEncoding.EncodeToString(x)
	case remote.GeoPoint:
		return x.String()
	case remote.Polygon:
		return fmt.Sprintf("polygon(%d points)", len(x.Points))
	case *remote.File:
		if x.URL() == "" {
			return x.Name() + " (unsaved)"
		}
		return x.URL()
	case *remote.ACL:
		return FormatACL(x)
	case *remote.Relation:
		return "relation<" + x.TargetClass() + ">"
	case remote.Record:
		return RecordRef(x)
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = FormatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	}
	return fmt.Sprint(v)
}

// RecordRef returns "Class/objectId", or "Class/(new)" for unsaved records.
func RecordRef(r remote.Record) string {
	id := r.ID()
	if id == "" {
		id = "(new)"
	}
	return r.ClassName() + "/" + id
}

// FormatACL lists the grants of acl, e.g. "*:r u1:rw role:admins:w".
func FormatACL(acl *remote.ACL) string {
	if acl == nil {
		return "none"
	}
	subjects := acl.Subjects()
	if len(subjects) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(subjects))
	for _, s := range subjects {
		mode := ""
		if acl.ReadAccess(s) {
			mode += "r"
		}
		if acl.WriteAccess(s) {
			mode += "w"
		}
		parts = append(parts, s+":"+mode)
	}
	return strings.Join(parts, " ")
}

// FormatRecordShort formats a record on one line, showing only keys (all
// available fields when keys is empty), truncated to width cells.
func FormatRecordShort(r remote.Record, keys []string, width int) string {
	obj := remote.ObjectOf(r)
	if len(keys) == 0 {
		keys = obj.Keys()
	}

	parts := []string{titleStyle.Render(classStyle.Render(r.ClassName()) + "/" + r.ID())}
	for _, k := range keys {
		if k == "ACL" || !obj.Has(k) {
			continue
		}
		v, err := obj.Get(k)
		if err != nil {
			continue
		}
		parts = append(parts, keyStyle.Render(k)+"="+FormatValue(v))
	}
	if ts := obj.UpdatedAt(); !ts.IsZero() {
		parts = append(parts, subtleStyle.Render(FormatTimeAgo(ts)))
	}
	return Truncate(strings.Join(parts, "  "), width)
}

// FormatRecordLong formats a record with one field per line.
func FormatRecordLong(r remote.Record) string {
	obj := remote.ObjectOf(r)
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(RecordRef(r)))
	sb.WriteString("\n")
	if !obj.CreatedAt().IsZero() {
		fmt.Fprintf(&sb, "%s %s\n", subtleStyle.Render("Created:"), obj.CreatedAt().UTC().Format(time.RFC3339))
	}
	if !obj.UpdatedAt().IsZero() {
		fmt.Fprintf(&sb, "%s %s (%s)\n", subtleStyle.Render("Updated:"),
			obj.UpdatedAt().UTC().Format(time.RFC3339), FormatTimeAgo(obj.UpdatedAt()))
	}
	if acl, err := obj.ACL(); err == nil && acl != nil {
		fmt.Fprintf(&sb, "%s %s\n", subtleStyle.Render("ACL:"), FormatACL(acl))
	}
	if dirty := obj.DirtyKeys(); len(dirty) > 0 {
		fmt.Fprintf(&sb, "%s %s\n", warningStyle.Render("Unsaved:"), strings.Join(dirty, ", "))
	}
	if !obj.IsDataAvailable() {
		sb.WriteString(subtleStyle.Render("(not fetched)"))
		sb.WriteString("\n")
		return sb.String()
	}

	var fields []string
	for _, k := range obj.Keys() {
		if k == "ACL" {
			continue
		}
		v, err := obj.Get(k)
		if err != nil {
			continue
		}
		fields = append(fields, keyStyle.Render(k)+": "+FormatValue(v))
	}
	if len(fields) > 0 {
		sb.WriteString(SectionHeader("fields"))
		sb.WriteString(strings.Join(IndentLines(fields, 2), "\n"))
		sb.WriteString("\n")
	}
	return sb.String()
}

// Truncate shortens s to width terminal cells, ignoring ANSI escapes.
// A width of zero or less leaves s unchanged.
func Truncate(s string, width int) string {
	if width <= 0 || ansi.StringWidth(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, "…")
}

// TerminalWidth returns the current terminal width or a fallback when unavailable.
func TerminalWidth(fallback int) int {
	if fallback <= 0 {
		fallback = defaultWidth
	}

	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}

	if cols := os.Getenv("COLUMNS"); cols != "" {
		if parsed, err := strconv.Atoi(cols); err == nil && parsed > 0 {
			return parsed
		}
	}

	return fallback
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header, e.g. "\nFIELDS:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentLines indents each line by the specified number of spaces
func IndentLines(lines []string, spaces int) []string {
	indent := strings.Repeat(" ", spaces)
	result := make([]string, len(lines))
	for i, line := range lines {
		result[i] = indent + line
	}
	return result
}

// IndentString indents each line in a string by the specified number of spaces
func IndentString(s string, spaces int) string {
	if s == "" {
		return ""
	}
	return strings.Join(IndentLines(strings.Split(s, "\n"), spaces), "\n")
}
