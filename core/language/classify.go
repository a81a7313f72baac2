// Package language detects whether a reply is English or Hindi by the share of
// Devanagari script in it.
package language

import (
	"unicode"

	"golang.org/x/text/language"
)

// Tag is the language of a piece of text. The zero value is [English].
type Tag string

const (
	English Tag = "en"
	Hindi   Tag = "hi"
)

// DevanagariThreshold is the ratio of Devanagari to non-whitespace characters
// that must be exceeded for text to be classified as Hindi.
const DevanagariThreshold = 0.3

const (
	devanagariFirst = '\u0900'
	devanagariLast  = '\u097F'
)

var locales = map[Tag]language.Tag{
	English: language.MustParse("en-US"),
	Hindi:   language.MustParse("hi-IN"),
}

// Locale returns the regional locale used to pick a voice for the tag.
func (t Tag) Locale() language.Tag {
	if locale, ok := locales[t]; ok {
		return locale
	}
	return locales[English]
}

// Base returns the bare language of the tag, e.g. "hi" for Hindi.
func (t Tag) Base() language.Base {
	base, _ := t.Locale().Base()
	return base
}

func (t Tag) String() string {
	if t == "" {
		return string(English)
	}
	return string(t)
}

// Detection is the outcome of classifying a text sample.
type Detection struct {
	Tag        Tag
	Devanagari int
	Total      int
	Ratio      float64
}

// Classify returns the language of text. Mixed-script text at or below the
// threshold is classified as English.
func Classify(text string) Tag {
	return Detect(text).Tag
}

// Detect classifies text and reports the counts the decision was based on.
func Detect(text string) Detection {
	d := Detection{Tag: English}
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		d.Total++
		if r >= devanagariFirst && r <= devanagariLast {
			d.Devanagari++
		}
	}

	if d.Total == 0 || d.Devanagari == 0 {
		return d
	}

	d.Ratio = float64(d.Devanagari) / float64(d.Total)
	if d.Ratio > DevanagariThreshold {
		d.Tag = Hindi
	}
	return d
}
