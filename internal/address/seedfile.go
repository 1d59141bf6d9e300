package address

import (
	"io"
	"os"

	"grimm.is/setguard/internal/errors"
)

// OpenSeed opens a seed or whitelist file for reading after verifying that it
// is a regular file owned by ownerUID and not accessible to group or others.
// Every failure is a KindInput error; callers degrade to an empty record set.
func OpenSeed(path string, ownerUID int) (io.ReadCloser, error) {
	if path == "" {
		return nil, errors.New(errors.KindInput, "no seed file configured")
	}
	f, err := openNoFollow(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Attr(errors.Wrap(err, errors.KindInput, "seed file missing"), "path", path)
		}
		return nil, errors.Attr(errors.Wrap(err, errors.KindInput, "seed file unreadable"), "path", path)
	}
	if err := checkOwnership(f, ownerUID); err != nil {
		f.Close()
		return nil, errors.Attr(errors.Wrap(err, errors.KindInput, "seed file insecure"), "path", path)
	}
	return f, nil
}
