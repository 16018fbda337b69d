package backup

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chesley-web/siteops/internal/cache"
	"github.com/chesley-web/siteops/internal/procexec"
	"github.com/chesley-web/siteops/internal/storage"
	"github.com/stretchr/testify/mock"
)

type memObject struct {
	info storage.ObjectInfo
	data []byte
}

// memStore is an in-memory ObjectStorage that records every call.
type memStore struct {
	mu      sync.Mutex
	objects map[string]memObject
	calls   []string
	now     func() time.Time

	listErr   error
	uploadErr error
	pingErr   error
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{objects: map[string]memObject{}, now: now}
}

func (s *memStore) put(key string, size int64, modified time.Time) {
	s.objects[key] = memObject{info: storage.ObjectInfo{Key: key, Size: size, LastModified: modified}}
}

func (s *memStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *memStore) ListObjects(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "list:"+prefix)
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []storage.ObjectInfo
	for k, o := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, o.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *memStore) UploadFile(_ context.Context, key, localPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "upload:"+key)
	if s.uploadErr != nil {
		return s.uploadErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	s.objects[key] = memObject{
		info: storage.ObjectInfo{Key: key, Size: int64(len(data)), LastModified: s.now()},
		data: data,
	}
	return nil
}

func (s *memStore) DeleteObject(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "delete:"+key)
	if _, ok := s.objects[key]; !ok {
		return errors.New("no such key")
	}
	delete(s.objects, key)
	return nil
}

func (s *memStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "ping")
	return s.pingErr
}

func (s *memStore) Describe() string { return "s3://test-bucket" }

// fakeRunner pretends to be tar and pg_dump.
type fakeRunner struct {
	cmds     []procexec.Command
	excludes string
	fail     func(cmd procexec.Command) error
	// emptyDump makes pg_dump exit cleanly without output.
	emptyDump bool
}

func (r *fakeRunner) Run(_ context.Context, cmd procexec.Command) (procexec.Result, error) {
	r.cmds = append(r.cmds, cmd)
	if r.fail != nil {
		if err := r.fail(cmd); err != nil {
			return procexec.Result{ExitCode: 1}, err
		}
	}
	switch cmd.Name {
	case "tar":
		data, err := os.ReadFile(strings.TrimPrefix(cmd.Args[0], "--exclude-from="))
		if err != nil {
			return procexec.Result{ExitCode: 2}, err
		}
		r.excludes = string(data)
		if err := os.WriteFile(cmd.Args[2], []byte("tar-data"), 0o600); err != nil {
			return procexec.Result{ExitCode: 2}, err
		}
	case "pg_dump":
		if r.emptyDump {
			break
		}
		if _, err := cmd.Stdout.Write([]byte("dump-data")); err != nil {
			return procexec.Result{ExitCode: 2}, err
		}
	}
	return procexec.Result{}, nil
}

func (r *fakeRunner) names() []string {
	var out []string
	for _, c := range r.cmds {
		out = append(out, c.Name)
	}
	return out
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, subject, body string) error {
	args := m.Called(ctx, subject, body)
	return args.Error(0)
}

type fakeLedger struct {
	acquireErr error
	acquired   []string
	released   []string
	records    []cache.RunRecord
}

func (l *fakeLedger) Acquire(_ context.Context, runID string) error {
	if l.acquireErr != nil {
		return l.acquireErr
	}
	l.acquired = append(l.acquired, runID)
	return nil
}

func (l *fakeLedger) Release(_ context.Context, runID string) error {
	l.released = append(l.released, runID)
	return nil
}

func (l *fakeLedger) Record(_ context.Context, rec cache.RunRecord) error {
	l.records = append(l.records, rec)
	return nil
}

func (l *fakeLedger) Close() error { return nil }

type fakeDB struct {
	err       error
	calls     int
	size      int64
	sizeErr   error
	sizeCalls int
}

func (d *fakeDB) Check(context.Context) error {
	d.calls++
	return d.err
}

func (d *fakeDB) Size(context.Context) (int64, error) {
	d.sizeCalls++
	return d.size, d.sizeErr
}
