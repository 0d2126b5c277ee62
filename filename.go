package massget

import (
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// DefaultFilename is used when neither the URL nor the response names the file.
const DefaultFilename = "massget.output"

var dispositionFilename = regexp.MustCompile(`filename="([^"]*)"`)

// GetFilename it returns default file name from a URL.
func GetFilename(URL string) string {

	if u, err := url.Parse(URL); err == nil {

		if name := path.Base(u.Path); isSafeName(name) {
			return name
		}
	}

	return DefaultFilename
}

// getNameFromHeader returns the filename of a Content-Disposition header value,
// or "" when it is missing or unsafe.
func getNameFromHeader(val string) string {

	var name string

	if _, params, err := mime.ParseMediaType(val); err == nil {
		name = params["filename"]
	} else if m := dispositionFilename.FindStringSubmatch(val); m != nil {
		name = m[1]
	}

	if !isSafeName(name) {
		return ""
	}

	return name
}

func isSafeName(name string) bool {
	switch name {
	case "", ".", "..", "/":
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.Contains(name, "..")
}
