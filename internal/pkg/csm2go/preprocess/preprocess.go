package preprocess

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)

	separatorReplacer  = strings.NewReplacer(";", ", ", ":", ", ")
	apostropheReplacer = strings.NewReplacer("'", "", "’", "")
)

// leadingStrip is the set of characters removed from the start of a line.
const leadingStrip = ",-._/@#*%$()"

// Normalize turns one raw transcript line into the utterance text sent to
// the model. Separators become ", ", apostrophes are deleted, and leading
// punctuation from leadingStrip is peeled off together with surrounding
// whitespace. The result may be empty.
//
// Replacement runs before stripping so the output never starts with a
// character the strip would remove; that keeps Normalize idempotent. Lines
// with a leading or trailing separator therefore come out as "wait;" ->
// "wait," and ";hi" -> "hi", not "wait, " and ", hi".
func Normalize(line string) string {
	line = separatorReplacer.Replace(line)
	line = apostropheReplacer.Replace(line)

	line = strings.TrimSpace(line)
	for line != "" && strings.IndexByte(leadingStrip, line[0]) >= 0 {
		line = strings.TrimSpace(line[1:])
	}

	return line
}

// Prepare canonicalises text ahead of tokenization: NFC composition and
// single spaces.
func Prepare(text string) string {
	text = norm.NFC.String(text)
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
