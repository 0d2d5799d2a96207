package transmit

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// internalTimestamp is the filename timestamp format. It is distinct from any
// display format and carries nanosecond precision so files written in the same
// run get distinguishable names.
const internalTimestamp = "20060102150405.000000000"

// Archiver persists a serialized copy of each outbound envelope for
// compliance and debugging. A blank directory disables archiving; that is a
// deliberate opt-out, not a misconfiguration.
type Archiver struct {
	dir         string
	interaction string
}

// NewArchiver creates an archiver writing under dir. Blank dir disables it.
func NewArchiver(dir, interaction string) *Archiver {
	return &Archiver{
		dir:         strings.TrimSpace(dir),
		interaction: interaction,
	}
}

// Enabled reports whether an archive destination is configured
func (a *Archiver) Enabled() bool {
	return a.dir != ""
}

// Archive writes the serialized envelope to
// <dir>/<interaction-with-':'-replaced>_at_<timestamp>.log. It is a no-op
// when disabled. The file handle is released exactly once on every path.
func (a *Archiver) Archive(message []byte) error {
	if !a.Enabled() {
		return nil
	}

	name := strings.ReplaceAll(a.interaction, ":", "_") +
		"_at_" + time.Now().UTC().Format(internalTimestamp) + ".log"
	path := filepath.Join(a.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return &ArchiveError{Path: path, Err: err}
	}

	_, werr := f.Write(message)
	cerr := f.Close()

	if werr != nil {
		return &ArchiveError{Path: path, Err: werr}
	}
	if cerr != nil {
		return &ArchiveError{Path: path, Err: cerr}
	}
	return nil
}
