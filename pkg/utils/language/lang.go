// Package language wraps x/text/language for caption language tags stored in
// Postgres and passed to speech backends.
package language

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/text/language"
)

// Tag is a BCP 47 tag that round-trips through pgx as nullable text.
type Tag language.Tag

// Und is the undetermined language.
var Und = Tag(language.Und)

// Parse is lenient: blank input and "auto" yield Und, as does anything
// x/text cannot parse.
func Parse(s string) Tag {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "auto") {
		return Und
	}
	t, err := language.Parse(s)
	if err != nil {
		return Und
	}
	return Tag(t)
}

// Code returns the ISO 639 base language ("en" for "en-US"), or "" for Und.
// Speech APIs accept only the base code.
func (t Tag) Code() string {
	if t == Und {
		return ""
	}
	base, conf := language.Tag(t).Base()
	if conf == language.No {
		return ""
	}
	return base.String()
}

// Suffix is the file-name fragment used for caption keys ("en", "und").
func (t Tag) Suffix() string {
	if c := t.Code(); c != "" {
		return c
	}
	return "und"
}

func (t Tag) String() string { return language.Tag(t).String() }

// Scan implements the sql.Scanner interface.
func (t *Tag) Scan(value any) error {
	if value == nil {
		*t = Und
		return nil
	}
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("language.Tag.Scan: expected string, got %T", value)
	}
	parsed, err := language.Parse(s)
	if err != nil {
		return err
	}
	*t = Tag(parsed)
	return nil
}

// Value implements the driver.Valuer interface.
func (t Tag) Value() (driver.Value, error) {
	if t == Und {
		return nil, nil
	}
	return t.String(), nil
}

// ScanText implements the pgtype.TextScanner interface for pgx v5.
func (t *Tag) ScanText(v pgtype.Text) error {
	if !v.Valid {
		*t = Und
		return nil
	}
	return t.Scan(v.String)
}

// TextValue implements the pgtype.TextValuer interface for pgx v5.
func (t Tag) TextValue() (pgtype.Text, error) {
	if t == Und {
		return pgtype.Text{}, nil
	}
	return pgtype.Text{String: t.String(), Valid: true}, nil
}
