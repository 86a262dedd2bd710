package bulkcmd

import (
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/open-cli-collective/sfbulk/api/bulk"
	"github.com/open-cli-collective/sfbulk/internal/cmd/root"
	"github.com/open-cli-collective/sfbulk/internal/journal"
)

const (
	testJobID = "750xx0000000001"
	asyncNS   = "http://www.force.com/2009/06/asyncapi/dataload"
)

// fakeBulk scripts the Bulk API for one job whose batches complete at once.
type fakeBulk struct {
	t  *testing.T
	mu sync.Mutex

	operation bulk.Operation
	object    string
	jobState  bulk.JobState
	payloads  []string
	requests  []string

	// failRecord makes the result row of the record with this Name fail.
	failRecord string
	// queryRows is the CSV result set of every query batch.
	queryRows string
}

type testEnv struct {
	fake    *fakeBulk
	opts    *root.Options
	journal *journal.Journal
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
}

func newTestEnv(t *testing.T, output string) *testEnv {
	t.Helper()

	f := &fakeBulk{t: t}
	server := httptest.NewServer(f)
	t.Cleanup(server.Close)

	conn, err := bulk.NewConnection(bulk.ConnectionConfig{
		InstanceURL: server.URL,
		HTTPClient:  server.Client(),
	})
	require.NoError(t, err)

	env := &testEnv{
		fake:    f,
		journal: journal.Open(filepath.Join(t.TempDir(), "jobs.json")),
		stdout:  &bytes.Buffer{},
		stderr:  &bytes.Buffer{},
	}
	env.opts = &root.Options{
		Output:  output,
		NoColor: true,
		Stdin:   strings.NewReader(""),
		Stdout:  env.stdout,
		Stderr:  env.stderr,
	}
	env.opts.SetBulkAPI(bulk.New(conn))
	env.opts.SetJournal(env.journal)
	return env
}

func (f *fakeBulk) requestLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *fakeBulk) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/services/async/"+bulk.DefaultAPIVersion+"/")
	f.requests = append(f.requests, r.Method+" "+path)
	body, _ := io.ReadAll(r.Body)
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case r.Method == http.MethodPost && path == "job":
		var req struct {
			Operation bulk.Operation `xml:"operation"`
			Object    string         `xml:"object"`
		}
		_ = xml.Unmarshal(body, &req)
		f.operation, f.object, f.jobState = req.Operation, req.Object, bulk.JobStateOpen
		f.writeJob(w)
	case len(parts) == 2 && r.Method == http.MethodPost:
		var req struct {
			State bulk.JobState `xml:"state"`
		}
		_ = xml.Unmarshal(body, &req)
		f.jobState = req.State
		f.writeJob(w)
	case len(parts) == 2 && r.Method == http.MethodGet:
		f.writeJob(w)
	case len(parts) == 3 && r.Method == http.MethodPost:
		f.payloads = append(f.payloads, string(body))
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, xml.Header+f.batchXML(len(f.payloads)-1, bulk.BatchStateQueued))
	case len(parts) == 3 && r.Method == http.MethodGet:
		fmt.Fprint(w, xml.Header+`<batchInfoList xmlns="`+asyncNS+`">`)
		for i := range f.payloads {
			fmt.Fprint(w, f.batchXML(i, bulk.BatchStateCompleted))
		}
		fmt.Fprint(w, `</batchInfoList>`)
	case len(parts) == 4 && r.Method == http.MethodGet:
		fmt.Fprint(w, xml.Header+f.batchXML(batchIndex(parts[3]), bulk.BatchStateCompleted))
	case len(parts) == 5 && r.Method == http.MethodGet:
		f.writeResult(w, parts[3])
	case len(parts) == 6 && r.Method == http.MethodGet:
		w.Header().Set("Content-Type", "text/csv")
		fmt.Fprint(w, f.queryRows)
	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		http.NotFound(w, r)
	}
}

func (f *fakeBulk) writeJob(w http.ResponseWriter) {
	fmt.Fprintf(w, `%s<jobInfo xmlns="%s"><id>%s</id><operation>%s</operation><object>%s</object><state>%s</state><concurrencyMode>Parallel</concurrencyMode><contentType>CSV</contentType><numberBatchesTotal>%d</numberBatchesTotal><numberBatchesCompleted>%d</numberBatchesCompleted></jobInfo>`,
		xml.Header, asyncNS, testJobID, f.operation, f.object, f.jobState, len(f.payloads), len(f.payloads))
}

func (f *fakeBulk) writeResult(w http.ResponseWriter, batchID string) {
	if f.operation == bulk.OperationQuery {
		fmt.Fprint(w, xml.Header+`<result-list xmlns="`+asyncNS+`"><result>752xx0000000001</result></result-list>`)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	records, _ := csv.NewReader(strings.NewReader(f.payloads[batchIndex(batchID)])).ReadAll()
	nameCol := -1
	for i, h := range records[0] {
		if h == "Name" {
			nameCol = i
		}
	}

	fmt.Fprint(w, `"Id","Success","Created","Error"`+"\n")
	for i, rec := range records[1:] {
		if nameCol >= 0 && rec[nameCol] == f.failRecord {
			fmt.Fprint(w, `"","false","false","REQUIRED_FIELD_MISSING:Required fields are missing: [Industry]:Industry --"`+"\n")
			continue
		}
		fmt.Fprintf(w, "\"001xx00000%05d\",\"true\",\"true\",\"\"\n", i+1)
	}
}

func (f *fakeBulk) batchXML(i int, state bulk.BatchState) string {
	return fmt.Sprintf(`<batchInfo xmlns="%s"><id>%s</id><jobId>%s</jobId><state>%s</state><numberRecordsProcessed>1</numberRecordsProcessed><numberRecordsFailed>0</numberRecordsFailed></batchInfo>`,
		asyncNS, batchID(i), testJobID, state)
}

func batchID(i int) string {
	return fmt.Sprintf("751xx00000000%02d", i+1)
}

func batchIndex(id string) int {
	var n int
	_, _ = fmt.Sscanf(strings.TrimPrefix(id, "751xx00000000"), "%d", &n)
	return n - 1
}

func countRequests(log []string, method, prefix string) int {
	n := 0
	for _, entry := range log {
		if strings.HasPrefix(entry, method+" "+prefix) {
			n++
		}
	}
	return n
}
