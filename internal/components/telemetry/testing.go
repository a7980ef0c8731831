package telemetry

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

// Report is a single call recorded by TestAPI.
type Report struct {
	Kind   string
	Id     string
	Params []any
}

// TestAPI implements API by logging to the test and keeping every report in memory
// so tests can assert on what a component reported.
type TestAPI struct {
	t       testing.TB
	lock    *sync.Mutex
	reports *[]Report
}

func NewTestAPI(t testing.TB) TestAPI {
	return TestAPI{
		t:       t,
		lock:    &sync.Mutex{},
		reports: &[]Report{},
	}
}

func (a TestAPI) record(kind, id string, params []any) {
	a.lock.Lock()
	defer a.lock.Unlock()
	*a.reports = append(*a.reports, Report{Kind: kind, Id: id, Params: params})

	var line strings.Builder
	line.WriteString(fmt.Sprintf("[%s] %s", kind, id))
	for _, p := range params {
		line.WriteString(fmt.Sprintf(" %v", p))
	}
	a.t.Log(line.String())
}

func (a TestAPI) ReportBroken(id string, params ...any) {
	a.record("broken", id, params)
}

func (a TestAPI) ReportWarning(id string, params ...any) {
	a.record("warning", id, params)
}

func (a TestAPI) ReportDebug(msg string, params ...any) {
	a.record("debug", msg, params)
}

func (a TestAPI) ReportCount(id string, count int64) {
	a.record("count", id, []any{count})
}

// Reports returns a copy of all the reports of the given kind ("broken", "warning", "debug", "count").
func (a TestAPI) Reports(kind string) []Report {
	a.lock.Lock()
	defer a.lock.Unlock()

	var out []Report
	for _, r := range *a.reports {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// HasReport checks if a report of the given kind whose id ends with `idSuffix` was made.
func (a TestAPI) HasReport(kind, idSuffix string) bool {
	for _, r := range a.Reports(kind) {
		if strings.HasSuffix(r.Id, idSuffix) {
			return true
		}
	}
	return false
}
