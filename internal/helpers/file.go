package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// PathExists checks if a given path exists.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || os.IsExist(err)
}

func EnsureDir(dir string) error {
	if PathExists(dir) {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

// WriteFileAtomic 先写临时文件再rename，避免写一半的文件被读到
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
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

// WriteJSONAtomic 以两空格缩进、不转义中文的方式整体写入JSON文档
func WriteJSONAtomic(path string, v interface{}) error {
	data, err := MarshalJSONIndent(v)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

func MarshalJSONIndent(v interface{}) ([]byte, error) {
	buf := &jsonBuffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.data, nil
}

type jsonBuffer struct{ data []byte }

func (b *jsonBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func ReadJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// WithFileLock 对本地JSON状态文件加建议锁后执行fn。
// 锁文件是目标文件加 .lock 后缀；超时直接报错，不无限重试。
func WithFileLock(path string, timeout time.Duration, fn func() error) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	lock := flock.New(path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ok, err := lock.TryLockContext(ctx, 200*time.Millisecond)
	if err != nil {
		return fmt.Errorf("获取文件锁超时: %s: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("获取文件锁失败: %s", path)
	}
	defer lock.Unlock()
	return fn()
}
