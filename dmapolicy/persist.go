package dmapolicy

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/jfabienke/3com-packet-driver-sub001/internal/corelog"
)

// degradedEnvVar disables on-disk persistence entirely (every load returns
// "no record", every store becomes a silent no-op held only in memory for
// the life of this process) for hosts where the resident driver's working
// directory is read-only, e.g. a network-booted or CD-ROM-based DOS image.
const degradedEnvVar = "PKTDRV_DMAPOLICY_DEGRADED"

// fallbackEnvVar is where Store automatically stashes the hex-encoded
// record when all persistRetries on-disk writes fail, per §4.D/§7: "the
// bit is stashed in a named environment variable as degraded persistence."
// Unlike degradedEnvVar (an operator-set kill switch consulted before any
// disk access), this one is written by Store itself and only consulted by
// Load as a last resort after the on-disk file is missing or fails
// validation.
const fallbackEnvVar = "PKTDRV_DMAPOLICY_FALLBACK_RECORD"

// sleepFunc is indirected so tests can exercise the retry loop without
// real delays.
var sleepFunc = time.Sleep

const (
	persistRetries   = 3
	persistBaseDelay = 50 * time.Millisecond
)

// Store is a persisted-policy-record backing store, parameterized by path
// so tests can point it at a scratch directory.
type Store struct {
	path string
}

// NewStore returns a Store that persists to the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

func degraded() bool {
	return os.Getenv(degradedEnvVar) != ""
}

// Load reads and validates the persisted record. It first tries the
// on-disk file; if that is missing or fails CRC/version validation, it
// falls back to whatever Store last stashed in fallbackEnvVar during a
// degraded-persistence episode. ok is false if persistence is degraded
// (degradedEnvVar set) or neither source yields a valid record — the
// caller treats that as "no prior policy," starting from the conservative
// default.
func (s *Store) Load() (Record, bool) {
	if degraded() {
		return Record{}, false
	}

	if data, err := os.ReadFile(s.path); err == nil && len(data) == RecordSize {
		var buf [RecordSize]byte
		copy(buf[:], data)

		if rec, err := Unmarshal(buf); err == nil {
			return rec, true
		} else {
			corelog.Warnf("dmapolicy: discarding persisted record: %v", err)
		}
	}

	return s.loadFallback()
}

// loadFallback decodes the record Store stashed in fallbackEnvVar, if any.
func (s *Store) loadFallback() (Record, bool) {
	encoded := os.Getenv(fallbackEnvVar)
	if encoded == "" {
		return Record{}, false
	}

	raw, err := hex.DecodeString(encoded)
	if err != nil || len(raw) != RecordSize {
		return Record{}, false
	}

	var buf [RecordSize]byte
	copy(buf[:], raw)

	rec, err := Unmarshal(buf)
	if err != nil {
		corelog.Warnf("dmapolicy: discarding degraded-persistence record: %v", err)
		return Record{}, false
	}

	return rec, true
}

// Store writes rec via write-temp-then-rename, retrying up to
// persistRetries times with exponential backoff on transient failures. If
// persistence is degraded (degradedEnvVar set), Store is a no-op that
// always reports success: the in-memory policy still governs this
// session, it simply will not survive a reboot. If every on-disk attempt
// fails, per §4.D/§7 Store degrades automatically: it stashes rec
// hex-encoded in fallbackEnvVar, logs a warning, and still reports
// success, since the policy state is not lost, only demoted to
// process-lifetime persistence.
func (s *Store) Store(rec Record) error {
	if degraded() {
		return nil
	}

	buf := rec.Marshal()

	var lastErr error
	delay := persistBaseDelay

	for attempt := 0; attempt < persistRetries; attempt++ {
		if attempt > 0 {
			sleepFunc(delay)
			delay *= 2
		}

		if err := writeAtomic(s.path, buf[:]); err != nil {
			lastErr = err
			corelog.Warnf("dmapolicy: persist attempt %d failed: %v", attempt+1, err)
			continue
		}

		os.Unsetenv(fallbackEnvVar)
		return nil
	}

	corelog.Warnf("dmapolicy: giving up persisting policy record to %s after %d attempts (%v); degrading to environment-variable persistence", s.path, persistRetries, lastErr)
	os.Setenv(fallbackEnvVar, hex.EncodeToString(buf[:]))

	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".dmapolicy-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, path)
}
