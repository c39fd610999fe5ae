package actions

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var runCounter atomic.Int64

// NewRunID builds a ledger run id: run_<yyyymmdd>_<seq>_<rand>. The
// sequence is process-local and the random suffix keeps ids unique
// across processes.
func NewRunID(now time.Time) string {
	seq := runCounter.Add(1)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("run_%s_%06d_%s", now.UTC().Format("20060102"), seq, suffix)
}
