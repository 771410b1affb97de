package episodes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/emby"
	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/taskcenter"
)

const (
	renameLogFile   = "rename_log.json"
	renameLockWait  = 10 * time.Second
	statusPending   = "pending_clouddrive_rename"
	statusCompleted = "completed"
)

var (
	genericTitlePattern  = regexp.MustCompile(`(?i)^(第\s*\d+\s*集|Episode\s*\d+)$`)
	illegalCharsPattern  = regexp.MustCompile(`[\\/*?:"<>|]`)
	titleInNamePattern   = regexp.MustCompile(`(?i)S\d{2}E\d{2}\s*-\s*(.*?)\s*-\s*\w+$`)
	noTitleSuffixPattern = regexp.MustCompile(`(?i)(S\d{2}E\d{2})\s*-\s*(\w+)$`)
)

// IsGenericEpisodeTitle 判断是否是"第 5 集"/"Episode 5"这类占位标题
func IsGenericEpisodeTitle(title string) bool {
	if title == "" {
		return true
	}
	return genericTitlePattern.MatchString(strings.TrimSpace(title))
}

// sanitizeFilename 替换文件名里的非法字符
func sanitizeFilename(name string) string {
	return illegalCharsPattern.ReplaceAllString(name, "_")
}

// extractTitleFromFilename 提取 SXXEXX 与结尾后缀之间的标题部分，
// 没有标题段时返回空串
func extractTitleFromFilename(baseName string) string {
	m := titleInNamePattern.FindStringSubmatch(baseName)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// newBaseFilename 计算改名后的基础文件名（不含扩展名）。
// 文件名里已有标题段则替换，只有SXXEXX-后缀结构则插入，
// 无法解析或标题已一致时返回空串和原因。
func newBaseFilename(baseName, embyTitle string) (string, string) {
	newTitle := sanitizeFilename(embyTitle)
	if old := extractTitleFromFilename(baseName); old != "" {
		if strings.EqualFold(old, newTitle) {
			return "", "标题已是最新"
		}
		return strings.Replace(baseName, old, newTitle, 1), ""
	}
	m := noTitleSuffixPattern.FindStringSubmatchIndex(baseName)
	if m == nil {
		return "", "无法解析文件名"
	}
	prefix := baseName[:m[0]]
	sxxexx := baseName[m[2]:m[3]]
	suffix := baseName[m[4]:m[5]]
	return fmt.Sprintf("%s%s - %s - %s", prefix, sxxexx, newTitle, suffix), ""
}

// RenameLogEntry 重命名审计日志里的一条记录
type RenameLogEntry struct {
	Id            string `json:"id"`
	SeriesId      string `json:"series_id"`
	SeasonNumber  int    `json:"season_number"`
	EpisodeNumber int    `json:"episode_number"`
	OldBasePath   string `json:"old_base_path"`
	NewBasePath   string `json:"new_base_path"`
	Timestamp     string `json:"timestamp"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

// renamerEmbyApi 重命名器需要的Emby操作子集
type renamerEmbyApi interface {
	GetItem(ctx context.Context, itemId, fields string) (*emby.BaseItem, error)
	Episodes(ctx context.Context, seriesId, fields string) ([]emby.BaseItem, error)
	RefreshItem(ctx context.Context, itemId string, replaceAllMetadata, replaceAllImages bool) error
}

// Renamer 把Emby里的分集标题同步到本地/网盘文件名。
// 本地改名立即生效并写入审计日志，网盘改名按日志批量补做。
type Renamer struct {
	emby    renamerEmbyApi
	cfg     func() config.EpisodeRenamerConfig
	logFile string
	log     *helpers.Logger
}

func NewRenamer(embyClient renamerEmbyApi, cfg func() config.EpisodeRenamerConfig, dataDir string, log *helpers.Logger) *Renamer {
	return &Renamer{
		emby:    embyClient,
		cfg:     cfg,
		logFile: filepath.Join(dataDir, renameLogFile),
		log:     log.Cat("剧集重命名"),
	}
}

// LoadLog 读取全部审计日志
func (r *Renamer) LoadLog() ([]RenameLogEntry, error) {
	var entries []RenameLogEntry
	err := helpers.WithFileLock(r.logFile, renameLockWait, func() error {
		if !helpers.PathExists(r.logFile) {
			return nil
		}
		return helpers.ReadJSONFile(r.logFile, &entries)
	})
	return entries, err
}

// PendingEntries 取待网盘改名的日志条目
func (r *Renamer) PendingEntries() ([]RenameLogEntry, error) {
	all, err := r.LoadLog()
	if err != nil {
		return nil, err
	}
	var pending []RenameLogEntry
	for _, e := range all {
		if e.Status == statusPending {
			pending = append(pending, e)
		}
	}
	return pending, nil
}

// appendLogEntry 追加一条日志，已有同分集的待办时不重复记录
func (r *Renamer) appendLogEntry(entry RenameLogEntry) error {
	return helpers.WithFileLock(r.logFile, renameLockWait, func() error {
		var entries []RenameLogEntry
		if helpers.PathExists(r.logFile) {
			if err := helpers.ReadJSONFile(r.logFile, &entries); err != nil {
				return err
			}
		}
		for _, e := range entries {
			if e.SeriesId == entry.SeriesId && e.SeasonNumber == entry.SeasonNumber &&
				e.EpisodeNumber == entry.EpisodeNumber && e.Status == statusPending {
				r.log.Info("已存在待处理的重命名日志，本次不再重复添加")
				return nil
			}
		}
		entries = append(entries, entry)
		return helpers.WriteJSONAtomic(r.logFile, entries)
	})
}

// markEntryStatus 更新日志条目状态
func (r *Renamer) markEntryStatus(id, status, errMsg string) error {
	return helpers.WithFileLock(r.logFile, renameLockWait, func() error {
		var entries []RenameLogEntry
		if !helpers.PathExists(r.logFile) {
			return nil
		}
		if err := helpers.ReadJSONFile(r.logFile, &entries); err != nil {
			return err
		}
		for i := range entries {
			if entries[i].Id == id {
				entries[i].Status = status
				entries[i].Error = errMsg
				break
			}
		}
		return helpers.WriteJSONAtomic(r.logFile, entries)
	})
}

// renameAssociatedFiles 改名 .strm / .nfo / -thumb.jpg 三件套
func (r *Renamer) renameAssociatedFiles(oldBase, newBase string) bool {
	renamedAny := false
	for _, suffix := range []string{".strm", ".nfo", "-thumb.jpg"} {
		oldPath := oldBase + suffix
		newPath := newBase + suffix
		if !helpers.PathExists(oldPath) {
			continue
		}
		if err := os.Rename(oldPath, newPath); err != nil {
			r.log.Errorf("重命名文件失败: %s -> %s: %v", oldPath, newPath, err)
			continue
		}
		r.log.Infof("成功重命名: %s -> %s", filepath.Base(oldPath), filepath.Base(newPath))
		renamedAny = true
	}
	return renamedAny
}

// triggerScan 让Emby只扫描文件变动，不动元数据和图片
func (r *Renamer) triggerScan(ctx context.Context, seriesId string) {
	if err := r.emby.RefreshItem(ctx, seriesId, false, false); err != nil {
		r.log.Errorf("触发Emby扫描失败: %v", err)
		return
	}
	r.log.Infof("已为剧集(ID: %s)触发文件扫描", seriesId)
}

// RenameResult 本地重命名任务的汇总
type RenameResult struct {
	RenamedCount int `json:"renamed_count"`
	SkippedCount int `json:"skipped_count"`
}

// RenameTask 按Emby标题重命名分集的本地关联文件并记录审计日志
func (r *Renamer) RenameTask(episodeIds []string) taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		total := len(episodeIds)
		r.log.Infof("本地重命名任务启动，开始获取 %d 个分集的详细信息", total)
		h.UpdateProgress(0, total)

		// 按剧集分组处理，改完一部剧触发一次扫描
		bySeries := map[string][]*emby.BaseItem{}
		var seriesOrder []string
		for i, id := range episodeIds {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			h.UpdateProgress(i+1, total)
			item, err := r.emby.GetItem(ctx, id, "Path,Name,SeriesId,SeriesName,IndexNumber,ParentIndexNumber")
			if err != nil {
				r.log.Errorf("获取分集 %s 详情失败: %v", id, err)
				continue
			}
			if item.SeriesId == "" {
				continue
			}
			if _, ok := bySeries[item.SeriesId]; !ok {
				seriesOrder = append(seriesOrder, item.SeriesId)
			}
			bySeries[item.SeriesId] = append(bySeries[item.SeriesId], item)
		}
		r.log.Infof("信息获取完毕，共涉及 %d 部剧集", len(seriesOrder))

		result := RenameResult{}
		for _, seriesId := range seriesOrder {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			eps := bySeries[seriesId]
			seriesName := eps[0].SeriesName
			r.log.Infof("--- 正在处理剧集:【%s】---", seriesName)
			renamed := 0
			for _, ep := range eps {
				ok, reason := r.renameOne(ep)
				if !ok {
					if reason != "" {
						r.log.Debugf("跳过分集 %s: %s", ep.Id, reason)
					}
					result.SkippedCount++
					continue
				}
				renamed++
			}
			result.RenamedCount += renamed
			r.log.Infof("【%s】处理完毕: 成功重命名 %d 组文件", seriesName, renamed)
			if renamed > 0 {
				r.triggerScan(ctx, seriesId)
			}
		}
		r.log.Infof("本地重命名任务执行完毕。成功 %d 组，跳过 %d 组", result.RenamedCount, result.SkippedCount)
		return result, nil
	}
}

// renameOne 处理单个分集，返回是否改名成功和跳过原因
func (r *Renamer) renameOne(ep *emby.BaseItem) (bool, string) {
	if ep.Path == "" || ep.Name == "" {
		return false, "缺少必要信息"
	}
	if IsGenericEpisodeTitle(ep.Name) {
		return false, "通用标题"
	}
	if ep.IndexNumber == nil || ep.ParentIndexNumber == nil {
		return false, "缺少季/集编号"
	}

	dir := filepath.Dir(ep.Path)
	baseName := strings.TrimSuffix(filepath.Base(ep.Path), filepath.Ext(ep.Path))
	newBase, reason := newBaseFilename(baseName, ep.Name)
	if newBase == "" {
		return false, reason
	}

	oldBasePath := filepath.Join(dir, baseName)
	newBasePath := filepath.Join(dir, newBase)
	if !r.renameAssociatedFiles(oldBasePath, newBasePath) {
		return false, "没有可重命名的文件"
	}

	entry := RenameLogEntry{
		Id:            fmt.Sprintf("%s-%d-%d-%d", ep.SeriesId, *ep.ParentIndexNumber, *ep.IndexNumber, time.Now().Unix()),
		SeriesId:      ep.SeriesId,
		SeasonNumber:  *ep.ParentIndexNumber,
		EpisodeNumber: *ep.IndexNumber,
		OldBasePath:   oldBasePath,
		NewBasePath:   newBasePath,
		Timestamp:     time.Now().Format(time.RFC3339),
		Status:        statusPending,
	}
	if err := r.appendLogEntry(entry); err != nil {
		r.log.Errorf("写入重命名日志失败: %v", err)
	}
	return true, ""
}

// clouddriveVideoPath 通过MediaSources的strm地址推算网盘真实路径
func (r *Renamer) clouddriveVideoPath(ep *emby.BaseItem, oldBasePath string) (string, error) {
	if len(ep.MediaSources) == 0 || ep.MediaSources[0].Path == "" {
		return "", fmt.Errorf("分集 %s 的MediaSources为空，无法获取网盘文件名", ep.Id)
	}
	strmURL := ep.MediaSources[0].Path
	parts := strings.Split(strmURL, "?/")
	name := parts[len(parts)-1]
	segs := strings.Split(name, "/")
	filename := segs[len(segs)-1]

	cfg := r.cfg()
	if !strings.HasPrefix(oldBasePath, cfg.EmbyPathRoot) {
		return "", fmt.Errorf("路径错误: 文件路径 '%s' 与配置的Emby根目录 '%s' 不匹配", oldBasePath, cfg.EmbyPathRoot)
	}
	relativeDir := strings.TrimLeft(strings.TrimPrefix(filepath.Dir(oldBasePath), cfg.EmbyPathRoot), "/\\")
	return filepath.Join(cfg.ClouddrivePathRoot, relativeDir, filename), nil
}

// findLatestEpisode 重扫后分集ID会变，按剧集+季+集号重新定位
func (r *Renamer) findLatestEpisode(ctx context.Context, seriesId string, season, episode int) (*emby.BaseItem, error) {
	eps, err := r.emby.Episodes(ctx, seriesId, "Path,Name,SeriesId,SeriesName,IndexNumber,ParentIndexNumber,MediaSources")
	if err != nil {
		return nil, err
	}
	for i := range eps {
		ep := &eps[i]
		if ep.ParentIndexNumber != nil && *ep.ParentIndexNumber == season &&
			ep.IndexNumber != nil && *ep.IndexNumber == episode {
			return ep, nil
		}
	}
	return nil, fmt.Errorf("在剧集(ID:%s)下未找到 S%02dE%02d", seriesId, season, episode)
}

// ClouddriveRenameResult 网盘重命名任务的汇总
type ClouddriveRenameResult struct {
	UpdatedCount int              `json:"updated_count"`
	FailedLogs   []RenameLogEntry `json:"failed_logs"`
}

// ApplyClouddriveTask 按审计日志批量重命名网盘文件
func (r *Renamer) ApplyClouddriveTask(entries []RenameLogEntry) taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		total := len(entries)
		r.log.Infof("网盘重命名任务启动，共需处理 %d 个项目", total)
		h.UpdateProgress(0, total)

		result := ClouddriveRenameResult{}
		cooldown := r.cfg().ClouddriveRenameCooldown
		for i, entry := range entries {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			h.UpdateProgress(i+1, total)
			r.log.Infof("正在处理: %s", filepath.Base(entry.OldBasePath))

			if err := r.applyOne(ctx, entry); err != nil {
				r.log.Errorf("处理失败: %v", err)
				entry.Error = err.Error()
				result.FailedLogs = append(result.FailedLogs, entry)
			} else {
				result.UpdatedCount++
			}
			if i < total-1 {
				sleepCooldown(ctx, cooldown)
			}
		}
		r.log.Infof("网盘重命名任务执行完毕。成功: %d, 失败: %d", result.UpdatedCount, len(result.FailedLogs))
		return result, nil
	}
}

func (r *Renamer) applyOne(ctx context.Context, entry RenameLogEntry) error {
	ep, err := r.findLatestEpisode(ctx, entry.SeriesId, entry.SeasonNumber, entry.EpisodeNumber)
	if err != nil {
		return fmt.Errorf("无法在Emby中找到对应的最新分集信息: %w", err)
	}
	oldPath, err := r.clouddriveVideoPath(ep, entry.OldBasePath)
	if err != nil {
		return err
	}
	if !helpers.PathExists(oldPath) {
		return fmt.Errorf("网盘文件不存在: %s", oldPath)
	}
	ext := filepath.Ext(oldPath)
	newPath := filepath.Join(filepath.Dir(oldPath), filepath.Base(entry.NewBasePath)+ext)
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("重命名网盘文件失败: %w", err)
	}
	r.log.Infof("成功重命名网盘文件 -> %s", filepath.Base(newPath))
	if err := r.markEntryStatus(entry.Id, statusCompleted, ""); err != nil {
		r.log.Errorf("更新重命名日志状态失败: %v", err)
	}
	return nil
}

// ScanForRenameTask 扫描指定剧集，找出网盘里可按Emby标题改名的文件，
// 结果追加到审计日志作为待办
func (r *Renamer) ScanForRenameTask(seriesId string) taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		r.log.Infof("手动扫描任务启动，正在扫描剧集 ID: %s", seriesId)
		eps, err := r.emby.Episodes(ctx, seriesId, "Name,IndexNumber,ParentIndexNumber,Path,SeriesName,MediaSources")
		if err != nil {
			return nil, fmt.Errorf("获取剧集 %s 的分集列表失败: %w", seriesId, err)
		}
		h.UpdateProgress(0, len(eps))

		var found []RenameLogEntry
		for i := range eps {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			h.UpdateProgress(i+1, len(eps))
			ep := &eps[i]
			if ep.Name == "" || IsGenericEpisodeTitle(ep.Name) ||
				ep.IndexNumber == nil || ep.ParentIndexNumber == nil || ep.Path == "" {
				continue
			}
			cloudPath, err := r.clouddriveVideoPath(ep, ep.Path)
			if err != nil {
				continue
			}
			cloudBase := strings.TrimSuffix(filepath.Base(cloudPath), filepath.Ext(cloudPath))
			newBase, _ := newBaseFilename(cloudBase, ep.Name)
			if newBase == "" {
				continue
			}
			dir := filepath.Dir(ep.Path)
			found = append(found, RenameLogEntry{
				Id:            "manual-" + ep.Id,
				SeriesId:      ep.SeriesId,
				SeasonNumber:  *ep.ParentIndexNumber,
				EpisodeNumber: *ep.IndexNumber,
				OldBasePath:   filepath.Join(dir, cloudBase),
				NewBasePath:   filepath.Join(dir, newBase),
				Timestamp:     time.Now().Format(time.RFC3339),
				Status:        statusPending,
			})
			r.log.Infof("发现待重命名项: %s", filepath.Base(cloudPath))
		}
		r.log.Infof("扫描完成，共发现 %d 个可重命名的项目", len(found))

		added := 0
		for _, entry := range found {
			if err := r.appendLogEntry(entry); err != nil {
				r.log.Errorf("写入重命名日志失败: %v", err)
				continue
			}
			added++
		}
		return map[string]int{"found_count": len(found), "added_count": added}, nil
	}
}
