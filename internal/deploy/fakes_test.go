package deploy

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/keithlinneman/static-deployer/internal/log"
)

// fakeStore is an in-memory ObjectStore keyed by "bucket/key".

type putCall struct {
	Bucket string
	Key    string
	Meta   ObjectMeta
	Body   string
}

type fakeStore struct {
	mu       sync.Mutex
	objects  map[string]string
	puts     []putCall
	lists    int
	listErr  error
	failKeys map[string]error

	// inflight tracking for pool bound assertions
	active    int
	maxActive int
	putDelay  time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string]string{}, failKeys: map[string]error{}}
}

func (s *fakeStore) seed(bucket string, keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.objects[bucket+"/"+k] = "seed"
	}
}

func (s *fakeStore) PutObject(ctx context.Context, bucket, key string, body io.Reader, meta ObjectMeta) error {
	s.mu.Lock()
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	delay := s.putDelay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	b, readErr := io.ReadAll(body)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
	s.puts = append(s.puts, putCall{Bucket: bucket, Key: key, Meta: meta, Body: string(b)})
	if readErr != nil {
		return readErr
	}
	if err, ok := s.failKeys[key]; ok {
		return err
	}
	s.objects[bucket+"/"+key] = string(b)
	return nil
}

func (s *fakeStore) ListObjects(ctx context.Context, bucket, prefix string, maxKeys int32) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []string
	for k := range s.objects {
		key, ok := strings.CutPrefix(k, bucket+"/")
		if ok && strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	if maxKeys > 0 && int32(len(out)) > maxKeys {
		out = out[:maxKeys]
	}
	return out, nil
}

func (s *fakeStore) putKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.puts))
	for _, p := range s.puts {
		out = append(out, p.Key)
	}
	sort.Strings(out)
	return out
}

func (s *fakeStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.puts)
}

// fakeCDN models one distribution with an etag that changes on every update.

type fakeCDN struct {
	mu      sync.Mutex
	id      string
	origins []Origin
	etag    int

	gets          int
	updates       int
	invalidations []string
	awaited       []Operation

	getErr        error
	updateErr     error
	invalidateErr error
	awaitErr      error

	// beforeUpdate runs after the token check input is captured but before it
	// is compared, letting a test simulate a concurrent writer
	beforeUpdate func()
	// awaitBlock makes Await block until ctx is done
	awaitBlock bool
}

func newFakeCDN(id string, origins ...Origin) *fakeCDN {
	return &fakeCDN{id: id, origins: origins, etag: 1}
}

func (c *fakeCDN) token() ConcurrencyToken { return ConcurrencyToken(fmt.Sprintf("E%d", c.etag)) }

func (c *fakeCDN) GetDistributionConfig(ctx context.Context, id string) (DistributionConfig, ConcurrencyToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return DistributionConfig{}, "", c.getErr
	}
	if id != c.id {
		return DistributionConfig{}, "", fmt.Errorf("no such distribution %s", id)
	}
	return DistributionConfig{Origins: append([]Origin(nil), c.origins...)}, c.token(), nil
}

func (c *fakeCDN) UpdateDistributionConfig(ctx context.Context, id string, cfg DistributionConfig, token ConcurrencyToken) (ConcurrencyToken, Operation, error) {
	if hook := c.beforeUpdate; hook != nil {
		hook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates++
	if c.updateErr != nil {
		return "", Operation{}, c.updateErr
	}
	if token != c.token() {
		return "", Operation{}, fmt.Errorf("precondition failed: %w", ErrConcurrentModification)
	}
	c.origins = append([]Origin(nil), cfg.Origins...)
	c.etag++
	return c.token(), Operation{Kind: OpDistributionDeploy, DistributionID: id, ID: id}, nil
}

// bump simulates another writer changing the distribution.
func (c *fakeCDN) bump(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.origins[0].Path = path
	c.etag++
}

func (c *fakeCDN) CreateInvalidation(ctx context.Context, id string, paths []string, ref string) (Operation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidations = append(c.invalidations, strings.Join(paths, ","))
	if c.invalidateErr != nil {
		return Operation{}, c.invalidateErr
	}
	return Operation{Kind: OpInvalidation, DistributionID: id, ID: fmt.Sprintf("I%d", len(c.invalidations))}, nil
}

func (c *fakeCDN) Await(ctx context.Context, op Operation) error {
	c.mu.Lock()
	c.awaited = append(c.awaited, op)
	block, err := c.awaitBlock, c.awaitErr
	c.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (c *fakeCDN) originPath(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.origins {
		if o.ID == name {
			return o.Path
		}
	}
	return ""
}

func (c *fakeCDN) calls() (gets, updates, invalidations int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets, c.updates, len(c.invalidations)
}

// staticResolver maps a fixed list of relative paths under prefix.
type staticResolver struct {
	files []string
	err   error
	calls int
}

func (r *staticResolver) Resolve(ctx context.Context, tree ContentTree, prefix string) ([]FileMapping, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	out := make([]FileMapping, 0, len(r.files))
	for _, f := range r.files {
		out = append(out, FileMapping{LocalPath: f, RemotePath: strings.TrimSuffix(prefix, "/") + "/" + f})
	}
	return out, nil
}

type fakeRecorder struct {
	err      error
	versions []string
}

func (r *fakeRecorder) Record(ctx context.Context, version, prefix string) error {
	r.versions = append(r.versions, version)
	return r.err
}

// countingObserver records observer callbacks.
type countingObserver struct {
	mu      sync.Mutex
	uploads int
	failed  int
	stages  []Stage
	runs    []bool
}

func (o *countingObserver) ObserveUpload(ok bool, bytes int64, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.uploads++
	if !ok {
		o.failed++
	}
}

func (o *countingObserver) ObserveStage(wf Workflow, stage Stage, ok bool, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, stage)
}

func (o *countingObserver) ObserveRun(wf Workflow, ok bool, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs = append(o.runs, ok)
}

// recLogger captures records for assertions.
type record struct {
	Level string
	Msg   string
	Err   error
	KV    []any
}

type recLogger struct {
	mu      *sync.Mutex
	records *[]record
	kv      []any
}

func newRecLogger() *recLogger {
	return &recLogger{mu: &sync.Mutex{}, records: &[]record{}}
}

func (l *recLogger) add(level string, err error, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all := append(append([]any(nil), l.kv...), kv...)
	*l.records = append(*l.records, record{Level: level, Msg: msg, Err: err, KV: all})
}

func (l *recLogger) With(kv ...any) log.Logger {
	return &recLogger{mu: l.mu, records: l.records, kv: append(append([]any(nil), l.kv...), kv...)}
}
func (l *recLogger) Debug(ctx context.Context, msg string, kv ...any) { l.add("debug", nil, msg, kv) }
func (l *recLogger) Info(ctx context.Context, msg string, kv ...any)  { l.add("info", nil, msg, kv) }
func (l *recLogger) Warn(ctx context.Context, msg string, kv ...any)  { l.add("warn", nil, msg, kv) }
func (l *recLogger) Error(ctx context.Context, err error, msg string, kv ...any) {
	l.add("error", err, msg, kv)
}
func (l *recLogger) Sync() error { return nil }

func (l *recLogger) find(level, msg string) []record {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []record
	for _, r := range *l.records {
		if r.Level == level && r.Msg == msg {
			out = append(out, r)
		}
	}
	return out
}

func (r record) value(key string) (any, bool) {
	for i := 0; i+1 < len(r.KV); i += 2 {
		if r.KV[i] == key {
			return r.KV[i+1], true
		}
	}
	return nil, false
}

// writeTree creates files (relative slash paths) under a temp dir.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, body := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func intPtr(n int) *int { return &n }
