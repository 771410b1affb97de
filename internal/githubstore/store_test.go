package githubstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRepo 内存中的GitHub contents API，覆盖PUT/GET/DELETE与sha校验
type fakeRepo struct {
	mu    sync.Mutex
	files map[string][]byte
	shas  map[string]string
	seq   int
	// 注入故障：对指定路径的PUT返回500
	failPut map[string]bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		files:   map[string][]byte{},
		shas:    map[string]string{},
		failPut: map[string]bool{},
	}
}

func (f *fakeRepo) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		path := strings.TrimPrefix(r.URL.Path, "/repos/u/a/contents/")
		switch r.Method {
		case http.MethodGet:
			data, ok := f.files[path]
			if !ok {
				w.WriteHeader(404)
				fmt.Fprint(w, `{"message": "Not Found"}`)
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"sha":          f.shas[path],
				"size":         len(data),
				"content":      base64.StdEncoding.EncodeToString(data),
				"encoding":     "base64",
				"download_url": "https://raw.example/" + path,
			})
		case http.MethodPut:
			if f.failPut[path] {
				w.WriteHeader(500)
				fmt.Fprint(w, `{"message": "boom"}`)
				return
			}
			var body struct {
				Content string `json:"content"`
				Sha     string `json:"sha"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			_, exists := f.files[path]
			if exists && body.Sha == "" {
				w.WriteHeader(422)
				fmt.Fprint(w, `{"message": "Invalid request. \"sha\" wasn't supplied."}`)
				return
			}
			if exists && body.Sha != f.shas[path] {
				w.WriteHeader(409)
				fmt.Fprint(w, `{"message": "sha mismatch"}`)
				return
			}
			data, _ := base64.StdEncoding.DecodeString(body.Content)
			f.seq++
			f.files[path] = data
			f.shas[path] = fmt.Sprintf("sha-%d", f.seq)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"content": map[string]interface{}{
					"sha":          f.shas[path],
					"size":         len(data),
					"download_url": "https://raw.example/" + path,
				},
			})
		case http.MethodDelete:
			if _, ok := f.files[path]; !ok {
				w.WriteHeader(404)
				fmt.Fprint(w, `{"message": "Not Found"}`)
				return
			}
			delete(f.files, path)
			delete(f.shas, path)
			fmt.Fprint(w, `{}`)
		}
	})
}

func (f *fakeRepo) index(t *testing.T) *RepoIndex {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[indexFileName]
	require.True(t, ok, "索引文件不存在")
	idx := emptyRepoIndex()
	require.NoError(t, json.Unmarshal(data, idx))
	return idx
}

func (f *fakeRepo) has(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[path]
	return ok
}

func newTestStore(t *testing.T, fake *fakeRepo) (*Store, RepoRef) {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)
	prev := apiBase
	apiBase = server.URL
	t.Cleanup(func() { apiBase = prev })

	store := NewStore(NewClient("", testLogger(t)), t.TempDir(), testLogger(t))
	ref, err := ParseRepoRef("https://github.com/u/a", "main", "tok")
	require.NoError(t, err)
	return store, ref
}

func writeLocal(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func TestExecutePlanUploadsAndWritesIndex(t *testing.T) {
	fake := newFakeRepo()
	store, ref := newTestStore(t, fake)

	plan := &RepoPlan{New: []Candidate{
		{
			LocalPath:  writeLocal(t, "poster.jpg", 100),
			TmdbId:     "550",
			ImageType:  "poster",
			RemotePath: "images/550/poster.jpg",
		},
	}}
	report, err := store.ExecutePlan(context.Background(), ref, plan, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Uploaded)
	assert.Equal(t, 0, report.Failed)

	assert.True(t, fake.has("images/550/poster.jpg"))
	assert.False(t, fake.has(lockFileName), "会话结束后.lock应被删除")

	idx := fake.index(t)
	entry := idx.Images["550"]["poster"]
	assert.Equal(t, ref.RepoUrl, entry.RepoUrl)
	assert.Equal(t, int64(100), entry.Size)
	assert.NotEmpty(t, entry.Sha)
}

func TestExecutePlanAbortsWhenLocked(t *testing.T) {
	fake := newFakeRepo()
	fake.files[lockFileName] = []byte("locked_at: 2026-01-01T00:00:00Z")
	fake.shas[lockFileName] = "sha-lock"
	store, ref := newTestStore(t, fake)

	plan := &RepoPlan{New: []Candidate{
		{LocalPath: writeLocal(t, "p.jpg", 10), TmdbId: "1", ImageType: "poster", RemotePath: "images/1/poster.jpg"},
	}}
	_, err := store.ExecutePlan(context.Background(), ref, plan, 0, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "手动删除")
	assert.False(t, fake.has("images/1/poster.jpg"), "锁冲突时不应有任何上传")
}

func TestExecutePlanNewFallsBackToOverwrite(t *testing.T) {
	// 远程已有同名文件但计划认为是新建，422后取sha转覆盖
	fake := newFakeRepo()
	fake.files["images/550/poster.jpg"] = []byte("old")
	fake.shas["images/550/poster.jpg"] = "sha-old"
	store, ref := newTestStore(t, fake)

	plan := &RepoPlan{New: []Candidate{
		{LocalPath: writeLocal(t, "poster.jpg", 50), TmdbId: "550", ImageType: "poster", RemotePath: "images/550/poster.jpg"},
	}}
	report, err := store.ExecutePlan(context.Background(), ref, plan, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Uploaded)

	idx := fake.index(t)
	assert.Equal(t, int64(50), idx.Images["550"]["poster"].Size)
}

func TestExecutePlanIndexFailureKeepsLockCleanup(t *testing.T) {
	fake := newFakeRepo()
	fake.failPut[indexFileName] = true
	store, ref := newTestStore(t, fake)

	plan := &RepoPlan{New: []Candidate{
		{LocalPath: writeLocal(t, "p.jpg", 10), TmdbId: "1", ImageType: "poster", RemotePath: "images/1/poster.jpg"},
	}}
	_, err := store.ExecutePlan(context.Background(), ref, plan, 0, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "重新运行同一备份")
	assert.False(t, fake.has(lockFileName), "失败路径同样要释放.lock")
	assert.True(t, fake.has("images/1/poster.jpg"), "图片本身已上传")
}

func TestDeleteSingle(t *testing.T) {
	fake := newFakeRepo()
	store, ref := newTestStore(t, fake)

	plan := &RepoPlan{New: []Candidate{
		{LocalPath: writeLocal(t, "poster.jpg", 10), TmdbId: "550", ImageType: "poster", RemotePath: "images/550/poster.jpg"},
		{LocalPath: writeLocal(t, "fanart.jpg", 10), TmdbId: "550", ImageType: "fanart", RemotePath: "images/550/fanart.jpg"},
	}}
	_, err := store.ExecutePlan(context.Background(), ref, plan, 0, nil)
	require.NoError(t, err)

	require.NoError(t, store.DeleteSingle(context.Background(), ref, "550", "poster", "images/550/poster.jpg"))
	assert.False(t, fake.has("images/550/poster.jpg"))
	assert.False(t, fake.has(lockFileName))

	idx := fake.index(t)
	_, ok := idx.Images["550"]["poster"]
	assert.False(t, ok)
	_, ok = idx.Images["550"]["fanart"]
	assert.True(t, ok)
}

func TestGetContentsNotFoundReturnsNil(t *testing.T) {
	fake := newFakeRepo()
	store, ref := newTestStore(t, fake)

	info, err := store.client.GetContents(context.Background(), ref, "missing.json")
	require.NoError(t, err)
	assert.Nil(t, info)
}
