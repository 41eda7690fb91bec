package workflow

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dspace-submission-composer/internal/config"
	"github.com/sells-group/dspace-submission-composer/internal/store"
	"github.com/sells-group/dspace-submission-composer/pkg/s3"
	"github.com/sells-group/dspace-submission-composer/pkg/sqs"
)

const testBucket = "dsc-assets"

var testRunDate = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

// memS3 is an in-memory s3.Client.
type memS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErrs map[string]error
	// gets counts whole-object reads per key
	gets map[string]int
}

func newMemS3() *memS3 {
	return &memS3{objects: make(map[string][]byte), putErrs: make(map[string]error), gets: make(map[string]int)}
}

func (m *memS3) add(bucket, key string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = body
}

func (m *memS3) object(bucket, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[bucket+"/"+key]
	return b, ok
}

func (m *memS3) ListObjects(ctx context.Context, bucket string, opts s3.ListOptions) (<-chan s3.Object, <-chan error) {
	m.mu.Lock()
	var keys []string
	for k := range m.objects {
		if key, ok := strings.CutPrefix(k, bucket+"/"); ok && matches(key, opts) {
			keys = append(keys, key)
		}
	}
	sizes := make(map[string]int, len(keys))
	for _, k := range keys {
		sizes[k] = len(m.objects[bucket+"/"+k])
	}
	m.mu.Unlock()
	sort.Strings(keys)

	objs := make(chan s3.Object)
	errc := make(chan error, 1)
	go func() {
		defer close(objs)
		defer close(errc)
		for _, k := range keys {
			select {
			case objs <- s3.Object{Key: k, Size: int64(sizes[k])}:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()
	return objs, errc
}

func matches(key string, o s3.ListOptions) bool {
	if !strings.HasPrefix(key, o.Prefix) || !strings.HasSuffix(key, o.Suffix) || !strings.Contains(key, o.Contains) {
		return false
	}
	rel := strings.TrimPrefix(key, o.Prefix)
	for _, ex := range o.ExcludePrefixes {
		if strings.HasPrefix(rel, ex) || strings.HasPrefix(key, ex) {
			return false
		}
	}
	return true
}

func (m *memS3) List(ctx context.Context, bucket string, opts s3.ListOptions) (<-chan string, <-chan error) {
	objs, errc := m.ListObjects(ctx, bucket, opts)
	keys := make(chan string)
	go func() {
		defer close(keys)
		for o := range objs {
			keys <- o.Key
		}
	}()
	return keys, errc
}

func (m *memS3) Get(_ context.Context, bucket, key string) ([]byte, error) {
	b, ok := m.object(bucket, key)
	if !ok {
		return nil, &notFound{url: s3.URI(bucket, key)}
	}
	m.mu.Lock()
	m.gets[key]++
	m.mu.Unlock()
	return b, nil
}

func (m *memS3) GetRange(_ context.Context, bucket, key string, offset, length int64) ([]byte, error) {
	b, ok := m.object(bucket, key)
	if !ok {
		return nil, &notFound{url: s3.URI(bucket, key)}
	}
	if offset >= int64(len(b)) {
		return nil, nil
	}
	end := min(offset+length, int64(len(b)))
	return bytes.Clone(b[offset:end]), nil
}

func (m *memS3) Put(_ context.Context, bucket, key string, body []byte, _ string) error {
	m.mu.Lock()
	err := m.putErrs[key]
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.add(bucket, key, bytes.Clone(body))
	return nil
}

func (m *memS3) Head(_ context.Context, bucket, key string) (*s3.Object, error) {
	b, ok := m.object(bucket, key)
	if !ok {
		return nil, &notFound{url: s3.URI(bucket, key)}
	}
	return &s3.Object{Key: key, Size: int64(len(b))}, nil
}

func (m *memS3) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	b, err := m.Get(ctx, srcBucket, srcKey)
	if err != nil {
		return err
	}
	m.add(dstBucket, dstKey, b)
	return nil
}

func (m *memS3) Delete(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, bucket+"/"+key)
	return nil
}

func (m *memS3) CopyThenDelete(ctx context.Context, bucket, srcKey, dstKey string) error {
	if err := m.Copy(ctx, bucket, srcKey, bucket, dstKey); err != nil {
		return err
	}
	return m.Delete(ctx, bucket, srcKey)
}

// mockQueue is a testify mock of sqs.Client.
type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Send(ctx context.Context, queue string, attrs map[string]sqs.Attribute, body string) (string, error) {
	args := m.Called(ctx, queue, attrs, body)
	return args.String(0), args.Error(1)
}

func (m *mockQueue) Receive(ctx context.Context, queue string) ([]sqs.Message, error) {
	args := m.Called(ctx, queue)
	if msgs := args.Get(0); msgs != nil {
		return msgs.([]sqs.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockQueue) Delete(ctx context.Context, queue, receiptHandle string) error {
	args := m.Called(ctx, queue, receiptHandle)
	return args.Error(0)
}

// stubFetcher answers fixed bodies by URL.
type stubFetcher struct {
	mu     sync.Mutex
	bodies map[string][]byte
	errs   map[string]error
	calls  []string
}

func (f *stubFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	b, ok := f.bodies[url]
	if !ok {
		return nil, &notFound{url: url}
	}
	return b, nil
}

func (f *stubFetcher) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	b, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *stubFetcher) FetchContent(ctx context.Context, url, _ string) ([]byte, error) {
	return f.Fetch(ctx, url)
}

type notFound struct{ url string }

func (e *notFound) Error() string { return "not found: " + e.url }

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "dsc.db"), "dsc-item-submissions-test")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testConfig() *config.Config {
	return &config.Config{
		Workspace: "test",
		DSS:       config.DSSConfig{InputQueue: "dss-input", SubmissionSystem: "DSpace@MIT"},
		S3:        config.S3Config{SubmissionAssetsBucket: testBucket, ArchivesSpaceOutputBucket: "aspace-out"},
		Workflow:  config.WorkflowConfig{RetryThreshold: 20},
		Wiley: config.WileyConfig{
			MetadataAPIURL: "https://api.crossref.org/works/",
			ContentAPIURL:  "https://api.wiley.com/onlinelibrary/tdm/v1/articles/",
			Concurrency:    2,
		},
	}
}

func testEnv(t *testing.T, objects *memS3) Env {
	t.Helper()
	return Env{Config: testConfig(), S3: objects, Store: newTestStore(t)}
}

func newTestRunner(wf Workflow, env Env, q *mockQueue) *Runner {
	b := NewBatch(wf.Name(), "batch-aaa", testBucket, testRunDate)
	return NewRunner(wf, b, env.S3, q, env.Store, RunnerOptions{
		InputQueue:     "dss-input",
		OutputQueue:    env.Config.OutputQueue(),
		RetryThreshold: env.Config.Workflow.RetryThreshold,
	})
}
