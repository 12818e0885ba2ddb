package feed

import (
	"bytes"
	"regexp"
)

var (
	// doubleEscapedRe matches a reserved-character reference whose leading
	// ampersand was itself escaped, e.g. "&amp;quot;".
	doubleEscapedRe = regexp.MustCompile(`&amp;(quot|apos|lt|gt|amp|#[0-9]+|#[xX][0-9a-fA-F]+);`)
	// referenceRe matches a well-formed named or numeric character reference
	// anchored at the start of the input.
	referenceRe = regexp.MustCompile(`^&(?:[A-Za-z_][A-Za-z0-9._-]*|#[0-9]+|#[xX][0-9a-fA-F]+);`)
)

// Clean repairs raw vendor feed bytes so the parser can read them:
//  1. ASCII control bytes other than tab, LF and CR are dropped;
//  2. doubly-escaped references collapse to their singly-escaped form;
//  3. any ampersand that does not open a valid reference is escaped.
//
// The order matters. CDATA sections are only subject to step 1. Clean is a
// no-op on well-formed input that holds no "&amp;" followed by a reference
// name: such a sequence is always read as a double escape, so a literal
// "&amp;lt;" in text comes out as "&lt;".
func Clean(raw []byte) []byte {
	in := stripControl(raw)
	out := make([]byte, 0, len(in)+64)

	for len(in) > 0 {
		start := bytes.Index(in, cdataOpen)
		if start < 0 {
			out = append(out, repairEntities(in)...)
			break
		}
		out = append(out, repairEntities(in[:start])...)
		end := bytes.Index(in[start:], cdataClose)
		if end < 0 {
			// unterminated section: keep the rest verbatim for the parser to report
			out = append(out, in[start:]...)
			break
		}
		end += start + len(cdataClose)
		out = append(out, in[start:end]...)
		in = in[end:]
	}
	return out
}

var (
	cdataOpen  = []byte("<![CDATA[")
	cdataClose = []byte("]]>")
)

func repairEntities(seg []byte) []byte {
	for {
		next := doubleEscapedRe.ReplaceAll(seg, []byte("&$1;"))
		if bytes.Equal(next, seg) {
			break
		}
		seg = next
	}
	return escapeBareAmpersands(seg)
}

// stripControl works byte-wise so it is safe for both UTF-8 and
// single-byte encoded payloads.
func stripControl(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	for _, b := range raw {
		if (b < 0x20 && b != '\t' && b != '\n' && b != '\r') || b == 0x7f {
			continue
		}
		out = append(out, b)
	}
	return out
}

func escapeBareAmpersands(in []byte) []byte {
	if bytes.IndexByte(in, '&') < 0 {
		return in
	}
	var buf bytes.Buffer
	buf.Grow(len(in) + 16)
	for i := 0; i < len(in); i++ {
		if in[i] == '&' && !referenceRe.Match(in[i:min(len(in), i+40)]) {
			buf.WriteString("&amp;")
			continue
		}
		buf.WriteByte(in[i])
	}
	return buf.Bytes()
}
