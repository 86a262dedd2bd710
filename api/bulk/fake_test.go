package bulk

import (
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const testJobID = "750xx0000000001"

// fakeBatch is one batch held by fakeService.
type fakeBatch struct {
	id      string
	payload string
	polls   int

	// readyAfter is the number of status polls answered InProgress.
	readyAfter int
	final      BatchState
	message    string
}

// fakeService scripts the Bulk API for a single job.
type fakeService struct {
	t  *testing.T
	mu sync.Mutex

	operation Operation
	jobState  JobState
	batches   []*fakeBatch
	requests  []string

	createBody    string
	createHeaders http.Header

	// createException, if set, is returned as the job creation response.
	createException string
	// omitBatchID makes batch creation answer without an id.
	omitBatchID bool
	// batchException, if set, is returned as the batch creation response.
	batchException string
	// batchReadyAfter is applied to new batches.
	batchReadyAfter int
	// batchSetup customizes new batches by submission index.
	batchSetup func(i int, b *fakeBatch)

	// dmlResults overrides the result CSV of a batch.
	dmlResults map[string]string
	// queryResults holds the result set bodies of each query batch.
	queryResults map[string][]string
}

func newFakeService(t *testing.T) *fakeService {
	return &fakeService{
		t:            t,
		dmlResults:   map[string]string{},
		queryResults: map[string][]string{},
	}
}

// start serves the fake and returns a Connection to it.
func (f *fakeService) start() *Connection {
	server := httptest.NewServer(f)
	f.t.Cleanup(server.Close)

	conn, err := NewConnection(ConnectionConfig{
		InstanceURL: server.URL,
		HTTPClient:  server.Client(),
	})
	require.NoError(f.t, err)
	return conn
}

func (f *fakeService) requestLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *fakeService) batchPayloads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.batches))
	for i, b := range f.batches {
		out[i] = b.payload
	}
	return out
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/services/async/"+DefaultAPIVersion+"/")
	f.requests = append(f.requests, r.Method+" "+path)
	body, _ := io.ReadAll(r.Body)
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case r.Method == http.MethodPost && path == "job":
		f.createJob(w, r, body)
	case len(parts) == 2 && r.Method == http.MethodPost:
		var req struct {
			State JobState `xml:"state"`
		}
		_ = xml.Unmarshal(body, &req)
		f.jobState = req.State
		f.writeJob(w)
	case len(parts) == 2 && r.Method == http.MethodGet:
		f.writeJob(w)
	case len(parts) == 3 && r.Method == http.MethodPost:
		f.createBatch(w, string(body))
	case len(parts) == 3 && r.Method == http.MethodGet:
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><batchInfoList xmlns="`+asyncNamespace+`">`)
		for _, b := range f.batches {
			fmt.Fprint(w, batchXML(b, b.final))
		}
		fmt.Fprint(w, `</batchInfoList>`)
	case len(parts) == 4 && r.Method == http.MethodGet:
		b := f.batch(parts[3])
		if b == nil {
			http.NotFound(w, r)
			return
		}
		b.polls++
		state := BatchStateInProgress
		if b.polls > b.readyAfter {
			state = b.final
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, xml.Header+batchXML(b, state))
	case len(parts) == 5 && r.Method == http.MethodGet:
		f.writeResult(w, parts[3])
	case len(parts) == 6 && r.Method == http.MethodGet:
		sets := f.queryResults[parts[3]]
		for i, rid := range resultIDs(parts[3], len(sets)) {
			if rid == parts[5] {
				w.Header().Set("Content-Type", "text/csv")
				fmt.Fprint(w, sets[i])
				return
			}
		}
		http.NotFound(w, r)
	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		http.NotFound(w, r)
	}
}

func (f *fakeService) createJob(w http.ResponseWriter, r *http.Request, body []byte) {
	f.createBody = string(body)
	f.createHeaders = r.Header.Clone()

	if f.createException != "" {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, f.createException)
		return
	}

	var req struct {
		Operation Operation `xml:"operation"`
	}
	_ = xml.Unmarshal(body, &req)
	f.operation = req.Operation
	f.jobState = JobStateOpen
	f.writeJob(w)
}

func (f *fakeService) createBatch(w http.ResponseWriter, payload string) {
	w.Header().Set("Content-Type", "application/xml")
	if f.batchException != "" {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, f.batchException)
		return
	}
	if f.omitBatchID {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><batchInfo xmlns="`+asyncNamespace+`"><state>Queued</state></batchInfo>`)
		return
	}

	b := &fakeBatch{
		id:         fmt.Sprintf("751xx00000000%02d", len(f.batches)+1),
		payload:    payload,
		readyAfter: f.batchReadyAfter,
		final:      BatchStateCompleted,
	}
	if f.batchSetup != nil {
		f.batchSetup(len(f.batches), b)
	}
	f.batches = append(f.batches, b)

	w.WriteHeader(http.StatusCreated)
	fmt.Fprint(w, xml.Header+batchXML(b, BatchStateQueued))
}

func (f *fakeService) writeJob(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprintf(w, `%s<jobInfo xmlns="%s"><id>%s</id><operation>%s</operation><object>Account</object><state>%s</state><concurrencyMode>Parallel</concurrencyMode><contentType>CSV</contentType><numberBatchesTotal>%d</numberBatchesTotal></jobInfo>`,
		xml.Header, asyncNamespace, testJobID, f.operation, f.jobState, len(f.batches))
}

func (f *fakeService) writeResult(w http.ResponseWriter, batchID string) {
	if f.operation == OperationQuery {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, xml.Header+`<result-list xmlns="`+asyncNamespace+`">`)
		for _, rid := range resultIDs(batchID, len(f.queryResults[batchID])) {
			fmt.Fprintf(w, "<result>%s</result>", rid)
		}
		fmt.Fprint(w, `</result-list>`)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	if res, ok := f.dmlResults[batchID]; ok {
		fmt.Fprint(w, res)
		return
	}

	// one successful row per submitted record
	b := f.batch(batchID)
	records, _ := csv.NewReader(strings.NewReader(b.payload)).ReadAll()
	fmt.Fprint(w, `"Id","Success","Created","Error"`+"\n")
	for i := 1; i < len(records); i++ {
		fmt.Fprintf(w, "\"001xx00000%05d\",\"true\",\"true\",\"\"\n", i)
	}
}

func (f *fakeService) batch(id string) *fakeBatch {
	for _, b := range f.batches {
		if b.id == id {
			return b
		}
	}
	return nil
}

func batchXML(b *fakeBatch, state BatchState) string {
	msg := ""
	if state == b.final && b.message != "" {
		msg = "<stateMessage>" + b.message + "</stateMessage>"
	}
	return fmt.Sprintf(`<batchInfo xmlns="%s"><id>%s</id><jobId>%s</jobId><state>%s</state>%s<numberRecordsProcessed>0</numberRecordsProcessed><numberRecordsFailed>0</numberRecordsFailed></batchInfo>`,
		asyncNamespace, b.id, testJobID, state, msg)
}

func resultIDs(batchID string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("752%s%d", batchID[3:], i)
	}
	return ids
}

// countRequests counts logged requests with the given method and path prefix.
func countRequests(log []string, method, prefix string) int {
	n := 0
	for _, entry := range log {
		if strings.HasPrefix(entry, method+" "+prefix) {
			n++
		}
	}
	return n
}
