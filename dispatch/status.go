package dispatch

import (
	"fmt"
	"html/template"
	"io"
	"sort"
	"strings"

	"github.com/augustus175/filestor/bucket"
)

// StripeStatus is a point-in-time snapshot of one stripe, for the status
// page and for operator tooling (the text dump cmd/filestorctl schedule
// prints).
type StripeStatus struct {
	DiskIndex   int
	StripeIndex int
	QueueLength int
	HeldLocks   []HeldLockStatus
	Waiting     []string
}

// HeldLockStatus describes one bucket's current holder(s).
type HeldLockStatus struct {
	Bucket  string
	Mode    string
	Holders []string
}

// DiskStatus snapshots one disk's state and all its stripes.
type DiskStatus struct {
	Index       int
	Path        string
	State       string
	QueueLength int
	HeldLocks   int
	Stripes     []StripeStatus
}

func bucketStrings(ids []bucket.ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	sort.Strings(out)
	return out
}

// Status is a full snapshot of a Handler, the structure rendered by both
// the HTML status page and the CLI's plain-text dump.
type Status struct {
	Disks []DiskStatus
}

// Snapshot walks every disk and stripe the Handler owns and builds a
// Status. It takes each stripe's monitor briefly, one at a time, so it
// never observes a fully consistent cross-stripe view, which is fine for
// an operational dashboard.
func (h *Handler) Snapshot() Status {
	var st Status
	for _, d := range h.disks {
		stats := d.Stats()
		ds := DiskStatus{
			Index:       d.Index,
			Path:        d.Path,
			State:       d.State().String(),
			QueueLength: stats.QueueLength,
			HeldLocks:   stats.HeldLocks,
		}
		for i := 0; i < d.NumStripes(); i++ {
			s, _ := d.StripeByID(i)
			ss := StripeStatus{DiskIndex: d.Index, StripeIndex: i}

			s.mu.Lock()
			ss.QueueLength = s.queue.Len()
			ss.Waiting = bucketStrings(s.waiting.ToSlice())
			for _, b := range s.locks.LockedBuckets() {
				holders, mode, ok := s.locks.HoldersWithMode(b)
				if !ok {
					continue
				}
				hs := HeldLockStatus{Bucket: b.String(), Mode: strings.ToLower(mode.String())}
				for _, le := range holders {
					hs.Holders = append(hs.Holders, fmt.Sprintf("%s#%d(prio=%d)", le.Type, le.UniqueID, le.Priority))
				}
				ss.HeldLocks = append(ss.HeldLocks, hs)
			}
			s.mu.Unlock()

			sort.Slice(ss.HeldLocks, func(i, j int) bool { return ss.HeldLocks[i].Bucket < ss.HeldLocks[j].Bucket })
			ds.Stripes = append(ds.Stripes, ss)
		}
		st.Disks = append(st.Disks, ds)
	}
	return st
}

var statusPageTemplate = template.Must(template.New("status").Parse(`
<!DOCTYPE html>
<html>
<head><title>filestor dispatch status</title></head>
<body>
<h1>Dispatch status</h1>
{{range .Disks}}
  <h2>Disk {{.Index}} ({{.Path}}) — {{.State}}, queue={{.QueueLength}}, locks={{.HeldLocks}}</h2>
  <table border="1" cellpadding="4">
    <tr><th>Stripe</th><th>Queue length</th><th>Held locks</th><th>Waiting for quiescence</th></tr>
    {{range .Stripes}}
    <tr>
      <td>{{.StripeIndex}}</td>
      <td>{{.QueueLength}}</td>
      <td>
        {{range .HeldLocks}}{{.Bucket}} [{{.Mode}}] held by {{range .Holders}}{{.}} {{end}}<br>{{end}}
      </td>
      <td>{{range .Waiting}}{{.}} {{end}}</td>
    </tr>
    {{end}}
  </table>
{{end}}
</body>
</html>
`))

// WriteHTMLStatus renders the current status as an HTML page, the
// equivalent of cmd/faucet/faucet.go's own templated status dashboard.
func (h *Handler) WriteHTMLStatus(w io.Writer) error {
	return statusPageTemplate.Execute(w, h.Snapshot())
}

// WriteTextStatus renders a terse plain-text status dump, for the CLI.
func (h *Handler) WriteTextStatus(w io.Writer) error {
	st := h.Snapshot()
	for _, d := range st.Disks {
		if _, err := fmt.Fprintf(w, "disk %d [%s] %s queue=%d locks=%d\n", d.Index, d.State, d.Path, d.QueueLength, d.HeldLocks); err != nil {
			return err
		}
		for _, s := range d.Stripes {
			if _, err := fmt.Fprintf(w, "  stripe %d: queue=%d locks=%d\n", s.StripeIndex, s.QueueLength, len(s.HeldLocks)); err != nil {
				return err
			}
			for _, l := range s.HeldLocks {
				if _, err := fmt.Fprintf(w, "    %s [%s] held by %v\n", l.Bucket, l.Mode, l.Holders); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
