package githubstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"EmbyToolbox/internal/helpers"
)

const lockFileName = ".lock"

// ExecuteReport 单个仓库写会话的结果
type ExecuteReport struct {
	Uploaded int
	Failed   int
}

// Store 对单个仓库执行带写锁的上传/删除会话。
// 会话期间仓库根目录的.lock文件作为互斥标记，
// 无论成败都在收尾时删除。
type Store struct {
	client  *Client
	log     *helpers.Logger
	dataDir string
}

func NewStore(client *Client, dataDir string, log *helpers.Logger) *Store {
	return &Store{
		client:  client,
		log:     log.Cat("GitHub存储"),
		dataDir: dataDir,
	}
}

// acquireLock 通过创建.lock获取写锁。422说明锁已存在，
// 需要人工确认无其他任务在写后手动删除该文件。
func (s *Store) acquireLock(ctx context.Context, ref RepoRef) error {
	content := []byte("locked_at: " + time.Now().UTC().Format(time.RFC3339))
	_, err := s.client.PutFile(ctx, ref, lockFileName, "Acquire write lock", content, "")
	if err == nil {
		s.log.Infof("已锁定仓库 %s", ref.ShortName())
		return nil
	}
	if IsStatus(err, 422) {
		return fmt.Errorf("仓库 %s 已被锁定(.lock已存在)。若确认没有其他备份任务在运行，请到仓库中手动删除 .lock 文件后重试", ref.ShortName())
	}
	return fmt.Errorf("锁定仓库 %s 失败: %w", ref.ShortName(), err)
}

// releaseLock 删除.lock，失败只记日志
func (s *Store) releaseLock(ref RepoRef) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	sha, err := s.client.GetFileSha(ctx, ref, lockFileName)
	if err != nil {
		s.log.Errorf("查询仓库 %s 的.lock失败，可能需要手动删除: %v", ref.ShortName(), err)
		return
	}
	if sha == "" {
		return
	}
	if err := s.client.DeleteFile(ctx, ref, lockFileName, "Release write lock", sha); err != nil {
		s.log.Errorf("删除仓库 %s 的.lock失败，请手动删除: %v", ref.ShortName(), err)
		return
	}
	s.log.Infof("已解锁仓库 %s", ref.ShortName())
}

// uploadOne 上传单个文件。新建遇到422(文件已存在)时
// 取一次现有sha降级为覆盖。
func (s *Store) uploadOne(ctx context.Context, ref RepoRef, c Candidate) (*WriteResult, error) {
	data, err := os.ReadFile(c.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("读取本地文件 %s 失败: %w", c.LocalPath, err)
	}
	message := fmt.Sprintf("Upload %s for %s", c.ImageType, c.TmdbId)
	sha := ""
	if c.Remote != nil {
		sha = c.Remote.Sha
	}
	result, err := s.client.PutFile(ctx, ref, c.RemotePath, message, data, sha)
	if err != nil && sha == "" && IsStatus(err, 422) {
		s.log.Warnf("文件 %s 在远程已存在，转为覆盖上传", c.RemotePath)
		existing, shaErr := s.client.GetFileSha(ctx, ref, c.RemotePath)
		if shaErr != nil {
			return nil, fmt.Errorf("获取 %s 现有sha失败: %w", c.RemotePath, shaErr)
		}
		result, err = s.client.PutFile(ctx, ref, c.RemotePath, message, data, existing)
	}
	return result, err
}

// ExecutePlan 在单个仓库上执行备份计划：
// 锁定 -> 重读索引 -> 逐个上传 -> 回写索引 -> 解锁。
// 上传成功但索引回写失败时明确提示重跑同一备份可修复。
func (s *Store) ExecutePlan(ctx context.Context, ref RepoRef, plan *RepoPlan, cooldown float64, onProgress func()) (ExecuteReport, error) {
	report := ExecuteReport{}
	if plan == nil || plan.Empty() {
		return report, nil
	}
	if err := s.acquireLock(ctx, ref); err != nil {
		return report, err
	}
	defer s.releaseLock(ref)

	// 会话内必须基于最新索引，不用聚合缓存
	info, err := s.client.GetContents(ctx, ref, indexFileName)
	if err != nil {
		return report, fmt.Errorf("会话内重读仓库 %s 索引失败: %w", ref.ShortName(), err)
	}
	idx := emptyRepoIndex()
	indexSha := ""
	if info != nil {
		indexSha = info.Sha
		raw, err := DecodeContent(info)
		if err != nil {
			return report, err
		}
		if err := json.Unmarshal(raw, idx); err != nil {
			return report, fmt.Errorf("解析仓库 %s 索引失败: %w", ref.ShortName(), err)
		}
		if idx.Images == nil {
			idx.Images = map[string]map[string]ImageEntry{}
		}
	}

	all := append(append([]Candidate{}, plan.Overwrite...), plan.New...)
	dirty := false
	for i, c := range all {
		if err := ctx.Err(); err != nil {
			break
		}
		if i > 0 && cooldown > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(time.Duration(cooldown * float64(time.Second))):
			}
		}
		result, err := s.uploadOne(ctx, ref, c)
		if err != nil {
			report.Failed++
			s.log.Errorf("上传 %s 到 %s 失败: %v", filepath.Base(c.LocalPath), ref.ShortName(), err)
			continue
		}
		idx.Set(c.TmdbId, c.ImageType, ImageEntry{
			RepoUrl: ref.RepoUrl,
			Sha:     result.Content.Sha,
			Size:    result.Content.Size,
			Url:     result.Content.DownloadUrl,
		})
		dirty = true
		report.Uploaded++
		s.log.Infof("已上传 %s -> %s/%s", filepath.Base(c.LocalPath), ref.ShortName(), c.RemotePath)
		if onProgress != nil {
			onProgress()
		}
	}

	if dirty {
		if err := s.writeIndex(ctx, ref, idx, indexSha); err != nil {
			return report, fmt.Errorf("图片已上传但索引未记录(%w)。请重新运行同一备份任务以修复索引", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (s *Store) writeIndex(ctx context.Context, ref RepoRef, idx *RepoIndex, knownSha string) error {
	idx.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	raw, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	// 会话期间索引可能已被本会话自己写过，回写前重取sha
	sha, err := s.client.GetFileSha(ctx, ref, indexFileName)
	if err != nil {
		s.log.Warnf("重取 %s 索引sha失败，使用会话开始时的sha: %v", ref.ShortName(), err)
		sha = knownSha
	}
	_, err = s.client.PutFile(ctx, ref, indexFileName, "Update database.json", raw, sha)
	return err
}

// BackupSingle 单文件备份，走完整的锁会话
func (s *Store) BackupSingle(ctx context.Context, ref RepoRef, c Candidate) error {
	plan := &RepoPlan{}
	if c.Remote != nil {
		plan.Overwrite = []Candidate{c}
	} else {
		plan.New = []Candidate{c}
	}
	report, err := s.ExecutePlan(ctx, ref, plan, 0, nil)
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("上传 %s 失败", c.RemotePath)
	}
	return nil
}

// DeleteSingle 删除远程文件并更新索引，同样持锁进行。
// 删除动作追加到本地删除日志备查。
func (s *Store) DeleteSingle(ctx context.Context, ref RepoRef, tmdbId, imageType, remotePath string) error {
	if err := s.acquireLock(ctx, ref); err != nil {
		return err
	}
	defer s.releaseLock(ref)

	idx, err := s.readIndexFresh(ctx, ref)
	if err != nil {
		return err
	}
	sha, err := s.client.GetFileSha(ctx, ref, remotePath)
	if err != nil {
		return err
	}
	if sha != "" {
		message := fmt.Sprintf("Delete %s for %s", imageType, tmdbId)
		if err := s.client.DeleteFile(ctx, ref, remotePath, message, sha); err != nil {
			return err
		}
	}
	idx.Remove(tmdbId, imageType)
	if err := s.writeIndex(ctx, ref, idx, ""); err != nil {
		return fmt.Errorf("文件已删除但索引未更新(%w)。请重新执行删除以修复索引", err)
	}
	s.appendDeleteLog(ref, tmdbId, imageType, remotePath)
	s.log.Infof("已从 %s 删除 %s", ref.ShortName(), remotePath)
	return nil
}

func (s *Store) readIndexFresh(ctx context.Context, ref RepoRef) (*RepoIndex, error) {
	info, err := s.client.GetContents(ctx, ref, indexFileName)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return emptyRepoIndex(), nil
	}
	raw, err := DecodeContent(info)
	if err != nil {
		return nil, err
	}
	idx := emptyRepoIndex()
	if err := json.Unmarshal(raw, idx); err != nil {
		return nil, err
	}
	if idx.Images == nil {
		idx.Images = map[string]map[string]ImageEntry{}
	}
	return idx, nil
}

type deleteLogEntry struct {
	DeletedAt  string `json:"deleted_at"`
	RepoUrl    string `json:"repo_url"`
	TmdbId     string `json:"tmdb_id"`
	ImageType  string `json:"image_type"`
	RemotePath string `json:"remote_path"`
}

func (s *Store) appendDeleteLog(ref RepoRef, tmdbId, imageType, remotePath string) {
	logFile := filepath.Join(s.dataDir, "github_delete_log.json")
	err := helpers.WithFileLock(logFile, 5*time.Second, func() error {
		var entries []deleteLogEntry
		if helpers.PathExists(logFile) {
			if err := helpers.ReadJSONFile(logFile, &entries); err != nil {
				s.log.Warnf("删除日志损坏，将重建: %v", err)
				entries = nil
			}
		}
		entries = append(entries, deleteLogEntry{
			DeletedAt:  time.Now().UTC().Format(time.RFC3339),
			RepoUrl:    ref.RepoUrl,
			TmdbId:     tmdbId,
			ImageType:  imageType,
			RemotePath: remotePath,
		})
		return helpers.WriteJSONAtomic(logFile, entries)
	})
	if err != nil {
		s.log.Errorf("写入删除日志失败: %v", err)
	}
}

// Download 按聚合索引条目下载远程文件
func (s *Store) Download(ctx context.Context, entry ImageEntry, pat string) ([]byte, error) {
	ref, err := ParseRepoRef(entry.RepoUrl, "", pat)
	if err != nil {
		return nil, err
	}
	return s.client.DownloadRaw(ctx, ref, entry.Url)
}
