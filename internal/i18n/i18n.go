// Package i18n picks a message printer for CLI output and the status page.
package i18n

import (
	"context"
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLang is the fallback language
var DefaultLang = language.English

// SupportedLangs are the languages we support
var SupportedLangs = []language.Tag{
	language.English,
	language.German,
}

var matcher = language.NewMatcher(SupportedLangs)

// Messages with a translation. Numbers are grouped per language by the
// printer itself.
const (
	MsgTables     = "%d tables, %d chains, %d rules, %d sets"
	MsgTableLine  = "%s %s: %d chains, %d rules, %d sets"
	MsgCommitted  = "committed %d messages (%s) in batch %s"
	MsgRejected   = "%d of %d messages rejected"
	MsgBatchProbe = "kernel supports nfnetlink batches: %t"
)

func init() {
	de := language.German
	_ = message.SetString(de, MsgTables, "%d Tabellen, %d Ketten, %d Regeln, %d Sets")
	_ = message.SetString(de, MsgTableLine, "%s %s: %d Ketten, %d Regeln, %d Sets")
	_ = message.SetString(de, MsgCommitted, "%d Nachrichten (%s) in Batch %s übertragen")
	_ = message.SetString(de, MsgRejected, "%d von %d Nachrichten abgelehnt")
	_ = message.SetString(de, MsgBatchProbe, "Kernel unterstützt nfnetlink-Batches: %t")
}

type contextKey struct{}

var printerKey = contextKey{}

// MatchLanguage returns the best matching language for an Accept-Language
// style list.
func MatchLanguage(acceptLang string) language.Tag {
	tags, _, _ := language.ParseAcceptLanguage(acceptLang)
	tag, _, _ := matcher.Match(tags...)
	return tag
}

// NewPrinter returns a message printer for the given language
func NewPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag)
}

// WithPrinter returns a new context with the printer injected
func WithPrinter(ctx context.Context, p *message.Printer) context.Context {
	return context.WithValue(ctx, printerKey, p)
}

// GetPrinter returns the printer from the context, or a default one
func GetPrinter(ctx context.Context) *message.Printer {
	p, ok := ctx.Value(printerKey).(*message.Printer)
	if !ok {
		return message.NewPrinter(DefaultLang)
	}
	return p
}

// LocaleTag maps a POSIX locale such as "de_DE.UTF-8" to a supported
// language.
func LocaleTag(locale string) language.Tag {
	if i := strings.IndexAny(locale, ".@"); i != -1 {
		locale = locale[:i]
	}
	if locale == "" || locale == "C" || locale == "POSIX" {
		return DefaultLang
	}
	tag, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		return MatchLanguage(locale)
	}
	tag, _, _ = matcher.Match(tag)
	return tag
}

// NewCLIPrinter returns a printer for the locale named by LC_ALL or LANG.
func NewCLIPrinter() *message.Printer {
	lang := os.Getenv("LC_ALL")
	if lang == "" {
		lang = os.Getenv("LANG")
	}
	return message.NewPrinter(LocaleTag(lang))
}
