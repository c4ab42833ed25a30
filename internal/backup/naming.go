package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"time"

	"kyc-backup/internal/archive"
	apperrors "kyc-backup/internal/errors"
)

// TimestampLayout is the run timestamp as embedded in artifact names
const TimestampLayout = "20060102_150405"

// artifactPattern is <prefix>_<YYYYMMDD_HHMMSS>_<kind>.<ext>[.<codec>]
var artifactPattern = regexp.MustCompile(
	`^([A-Za-z0-9_-]+)_(\d{8}_\d{6})_(db|objects|manifest)\.(dump|sql|tar|yaml)(?:\.(gz|lz4|zst))?$`)

// ArtifactName is the parsed identity of an artifact file
type ArtifactName struct {
	Prefix    string
	Timestamp time.Time
	Kind      Kind
	Ext       string
	// CodecExt is the compression extension without the dot, empty if raw
	CodecExt string
}

// String renders the file name
func (n ArtifactName) String() string {
	name := fmt.Sprintf("%s_%s_%s.%s", n.Prefix, FormatTimestamp(n.Timestamp), n.Kind, n.Ext)
	if n.CodecExt != "" {
		name += "." + n.CodecExt
	}
	return name
}

// Codec returns the codec implied by the name
func (n ArtifactName) Codec() archive.Codec {
	return archive.FromExtension(n.String())
}

// NewArtifactName builds the name of an artifact compressed with codec
func NewArtifactName(prefix string, ts time.Time, kind Kind, ext string, codec archive.Codec) ArtifactName {
	n := ArtifactName{Prefix: prefix, Timestamp: ts, Kind: kind, Ext: ext}
	if codec != nil {
		n.CodecExt = codec.Extension()
	}
	return n
}

// ParseArtifactName parses a file name; ok is false for anything that is not an artifact
func ParseArtifactName(filename string) (ArtifactName, bool) {
	m := artifactPattern.FindStringSubmatch(filepath.Base(filename))
	if m == nil {
		return ArtifactName{}, false
	}
	ts, err := ParseTimestamp(m[2])
	if err != nil {
		return ArtifactName{}, false
	}
	return ArtifactName{
		Prefix:    m[1],
		Timestamp: ts,
		Kind:      Kind(m[3]),
		Ext:       m[4],
		CodecExt:  m[5],
	}, true
}

// FormatTimestamp renders a run timestamp in UTC
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a run timestamp as written by FormatTimestamp
func ParseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, s, time.UTC)
}

// TempPath is the hidden path an artifact is written to before it is published.
// It never matches the artifact pattern.
func TempPath(final string) string {
	return filepath.Join(filepath.Dir(final), "."+filepath.Base(final)+".partial")
}

// nameTaken turns a clash on an artifact name into an error naming the
// timestamp, or returns nil when err is not such a clash. Two runs that
// start in the same second compute the same name; the loser fails here.
func nameTaken(err error, final string) error {
	if !errors.Is(err, fs.ErrExist) {
		return nil
	}
	msg := fmt.Sprintf("artifact %s is already taken", filepath.Base(final))
	if n, ok := ParseArtifactName(final); ok {
		msg = fmt.Sprintf("%s; another backup run is using timestamp %s", msg, FormatTimestamp(n.Timestamp))
	}
	return apperrors.NewAppError(apperrors.ErrorTypeValidation, msg, err)
}

// ManifestPath returns the manifest path of the run that produced artifact
func ManifestPath(artifact string) (string, bool) {
	n, ok := ParseArtifactName(artifact)
	if !ok {
		return "", false
	}
	m := ArtifactName{Prefix: n.Prefix, Timestamp: n.Timestamp, Kind: KindManifest, Ext: "yaml"}
	return filepath.Join(filepath.Dir(artifact), m.String()), true
}
