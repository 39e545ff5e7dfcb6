package audio

import (
	"crypto/md5" // #nosec G501 -- short non-cryptographic call fingerprint
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/types"
)

// MaxCollisionSuffix bounds the _NNN suffixes tried for a stream filename
const MaxCollisionSuffix = 999

// ErrNameExhausted is returned when every _NNN suffix is taken
var ErrNameExhausted = errors.New("no free filename")

// CallHash is the first 6 hex characters of the MD5 of the Call-ID
func CallHash(callID string) string {
	sum := md5.Sum([]byte(callID)) // #nosec G401
	return hex.EncodeToString(sum[:])[:6]
}

// SanitizeCallID makes a Call-ID safe for use as a filename by replacing
// path separators, shell-hostile characters and control characters with '_'.
func SanitizeCallID(callID string) string {
	var b strings.Builder
	b.Grow(len(callID))
	for _, r := range callID {
		switch {
		case strings.ContainsRune(`<>:"/\|?*@`, r):
			b.WriteByte('_')
		case unicode.IsControl(r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// StreamFilename names a live per-direction stream file:
// {HHMMSS}_{in|out}_{from}_{to}_{YYYYMMDD}_{hash}.wav, where the time and
// date are the call start.
func StreamFilename(start time.Time, dir types.Direction, from, to, callID string) string {
	return fmt.Sprintf("%s_%s_%s_%s_%s_%s.wav",
		start.Format("150405"), dir.String(), from, to, start.Format("20060102"), CallHash(callID))
}

// FinalFilename names a finalized artifact: {YYYYMMDD}_{LABEL}_{from}_{to}_{hash}.wav
func FinalFilename(date time.Time, label, from, to, callID string) string {
	return fmt.Sprintf("%s_%s_%s_%s_%s.wav", date.Format("20060102"), label, from, to, CallHash(callID))
}

// CallDir is {root}/{YYYY-MM-DD}/{from}_{to}
func CallDir(root string, date time.Time, from, to string) string {
	return filepath.Join(root, date.Format("2006-01-02"), from+"_"+to)
}

// UniquePath returns dir/name, or dir/name with _001.._999 inserted before
// the extension when the plain name already exists.
func UniquePath(dir, name string) (string, error) {
	candidate := filepath.Join(dir, name)
	if !exists(candidate) {
		return candidate, nil
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; i <= MaxCollisionSuffix; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%03d%s", base, i, ext))
		if !exists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNameExhausted, filepath.Join(dir, name))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
