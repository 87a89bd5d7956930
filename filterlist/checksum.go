package filterlist

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"regexp"
)

// checksumLineRe matches the "! Checksum: ..." line of a list.
var checksumLineRe = regexp.MustCompile(`(?im)^[ \t]*![ \t]*checksum[ \t:-]+([\w+/=]+).*(?:\n|$)`)

// newlinesRe matches runs of newline characters.
var newlinesRe = regexp.MustCompile(`\n+`)

// Checksum computes the checksum of the list contents in the Adblock Plus
// format: the MD5 digest of the normalized text encoded with unpadded
// base64.  The text is normalized by removing carriage returns, collapsing
// runs of newlines, and removing the checksum line itself.
func Checksum(data []byte) (sum string) {
	data = bytes.ReplaceAll(data, []byte{'\r'}, nil)
	data = newlinesRe.ReplaceAllLiteral(data, []byte{'\n'})
	data = checksumLineRe.ReplaceAllLiteral(data, nil)

	digest := md5.Sum(data)

	return base64.RawStdEncoding.EncodeToString(digest[:])
}

// VerifyChecksum returns the checksum declared by the list and the one
// computed from data.  declared is empty if the list declares none.
func VerifyChecksum(data []byte) (declared, computed string) {
	m := checksumLineRe.FindSubmatch(bytes.ReplaceAll(data, []byte{'\r'}, nil))
	if m == nil {
		return "", Checksum(data)
	}

	return string(m[1]), Checksum(data)
}

// AddChecksum returns data with a checksum line inserted after the header
// marker line.  An existing checksum line is replaced.
func AddChecksum(data []byte) (res []byte) {
	data = bytes.ReplaceAll(data, []byte{'\r'}, nil)
	data = checksumLineRe.ReplaceAllLiteral(data, nil)

	i := bytes.IndexByte(data, '\n')
	if i == -1 {
		data = append(data, '\n')
		i = len(data) - 1
	}

	line := []byte("! Checksum: " + Checksum(data) + "\n")

	res = make([]byte, 0, len(data)+len(line))
	res = append(res, data[:i+1]...)
	res = append(res, line...)

	return append(res, data[i+1:]...)
}
