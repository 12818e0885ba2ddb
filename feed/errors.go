package feed

import (
	"errors"
	"fmt"
)

// Stage-level failures. Any of these aborts processing of the current file.
var (
	ErrArchiveRead       = errors.New("feed: archive unreadable")
	ErrNoXMLEntry        = errors.New("feed: no xml entry found in archive")
	ErrExtraction        = errors.New("feed: extraction failed")
	ErrUnsupportedFile   = errors.New("feed: unsupported file type")
	ErrXMLParse          = errors.New("feed: xml parse failed")
	ErrInvalidFeedFormat = fmt.Errorf("%w: invalid feed format", ErrXMLParse)
)

// excerptLimit bounds every excerpt of the input carried in errors.
const excerptLimit = 500

// ParseError reports an unrecoverable XML failure together with a bounded
// excerpt of the input around the failure point.
type ParseError struct {
	Line    int
	Offset  int64
	Excerpt string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("feed: xml parse failed at line %d (offset %d): %v", e.Line, e.Offset, e.Err)
}

func (e *ParseError) Unwrap() []error { return []error{ErrXMLParse, e.Err} }

// Excerpt returns at most excerptLimit bytes of data centred on offset.
func Excerpt(data []byte, offset int64) string {
	if len(data) <= excerptLimit {
		return string(data)
	}
	start := offset - excerptLimit/2
	if start < 0 {
		start = 0
	}
	end := start + excerptLimit
	if end > int64(len(data)) {
		end = int64(len(data))
		start = end - excerptLimit
	}
	return string(data[start:end])
}
