// Package formdata decodes multipart/form-data request bodies that have already been read
// into memory.
//
// The decoder splits the body on the literal boundary delimiter. A boundary string that
// appears inside file content is not detected and corrupts the parse.
package formdata

import (
	"bytes"
	"strings"

	"github.com/joseph-ayodele/ihm-parser/internal/common"
)

const defaultContentType = "application/octet-stream"

// Field is one decoded form part. File parts carry Filename, ContentType and Data;
// text parts carry Text.
type Field struct {
	Name        string
	Text        string
	Filename    string
	ContentType string
	Data        []byte
	file        bool
}

func (f Field) IsFile() bool { return f.file }

// Form maps field names to their last occurrence in the body.
type Form map[string]Field

// File returns the named field when it is a file part.
func (f Form) File(name string) (Field, bool) {
	fld, ok := f[name]
	if !ok || !fld.file {
		return Field{}, false
	}
	return fld, true
}

// Text returns the named text field, or def when the field is absent or is a file part.
func (f Form) Text(name, def string) string {
	fld, ok := f[name]
	if !ok || fld.file {
		return def
	}
	return fld.Text
}

// Decode parses body using the boundary declared in contentType.
func Decode(contentType string, body []byte) (Form, error) {
	boundary, err := boundaryOf(contentType)
	if err != nil {
		return nil, err
	}

	form := make(Form)
	for _, part := range bytes.Split(body, []byte("--"+boundary)) {
		trimmed := bytes.TrimSpace(part)
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("--")) {
			continue
		}

		head, content, ok := splitPart(part)
		if !ok {
			continue
		}
		content = bytes.TrimRight(content, "\r\n-")

		headers := parseHeaders(head)
		params := dispositionParams(headers["content-disposition"])
		name, ok := params["name"]
		if !ok {
			continue
		}

		if filename, isFile := params["filename"]; isFile {
			ct := headers["content-type"]
			if ct == "" {
				ct = defaultContentType
			}
			data := make([]byte, len(content))
			copy(data, content)
			form[name] = Field{
				Name:        name,
				Filename:    filename,
				ContentType: ct,
				Data:        data,
				file:        true,
			}
			continue
		}
		form[name] = Field{
			Name: name,
			Text: strings.ToValidUTF8(string(content), "\uFFFD"),
		}
	}
	return form, nil
}

func boundaryOf(contentType string) (string, error) {
	_, rest, found := strings.Cut(contentType, "boundary=")
	if !found {
		return "", common.Malformed("No boundary found in Content-Type")
	}
	if i := strings.IndexByte(rest, ';'); i >= 0 {
		rest = rest[:i]
	}
	b := strings.Trim(strings.TrimSpace(rest), `"`)
	if b == "" {
		return "", common.Malformed("Empty boundary in Content-Type")
	}
	return b, nil
}

// splitPart separates headers from content at the first blank line. CRLF framing is
// preferred over bare LF when both are present.
func splitPart(part []byte) (head, content []byte, ok bool) {
	if h, c, found := bytes.Cut(part, []byte("\r\n\r\n")); found {
		return h, c, true
	}
	if h, c, found := bytes.Cut(part, []byte("\n\n")); found {
		return h, c, true
	}
	return nil, nil, false
}

func parseHeaders(head []byte) map[string]string {
	headers := make(map[string]string)
	text := strings.ToValidUTF8(string(head), "")
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return headers
}

// dispositionParams reads the key=value parameters of a Content-Disposition header.
// Values may be quoted; quoted values may contain ';'.
func dispositionParams(cd string) map[string]string {
	params := make(map[string]string)
	s := cd
	// skip the disposition type ("form-data")
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[i+1:]
	} else {
		return params
	}

	for len(s) > 0 {
		s = strings.TrimLeft(s, " \t;")
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := strings.ToLower(strings.TrimSpace(s[:eq]))
		s = strings.TrimLeft(s[eq+1:], " \t")

		var value string
		if strings.HasPrefix(s, `"`) {
			end := strings.IndexByte(s[1:], '"')
			if end < 0 {
				value, s = s[1:], ""
			} else {
				value, s = s[1:1+end], s[2+end:]
			}
		} else {
			end := strings.IndexByte(s, ';')
			if end < 0 {
				value, s = strings.TrimSpace(s), ""
			} else {
				value, s = strings.TrimSpace(s[:end]), s[end:]
			}
		}
		if key != "" {
			params[key] = value
		}
	}
	return params
}
