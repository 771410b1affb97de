package posterman

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/emby"
	"EmbyToolbox/internal/githubstore"
	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/selector"
	"EmbyToolbox/internal/taskcenter"
)

// 图床备份覆盖的三类图片
const (
	ContentPoster = "poster"
	ContentLogo   = "logo"
	ContentFanart = "fanart"
)

var (
	// 本地缓存目录里各类图片的固定文件名
	cacheFileByType = map[string]string{
		ContentPoster: "poster.jpg",
		ContentLogo:   "clearlogo.png",
		ContentFanart: "fanart.jpg",
	}
	// 图床类型到Emby图片类型的映射
	embyImageType = map[string]string{
		ContentPoster: "Primary",
		ContentLogo:   "Logo",
		ContentFanart: "Backdrop",
	}
)

func AllContentTypes() []string {
	return []string{ContentPoster, ContentLogo, ContentFanart}
}

// remoteFilePath 图片在仓库内的存放路径
func remoteFilePath(tmdbId, contentType string) string {
	return fmt.Sprintf("images/%s/%s", tmdbId, cacheFileByType[contentType])
}

type embyApi interface {
	GetItem(ctx context.Context, itemId, fields string) (*emby.BaseItem, error)
	DownloadImage(ctx context.Context, itemId, imageType string) ([]byte, string, error)
	UploadImage(ctx context.Context, itemId, imageType string, data []byte, contentType string) error
	DeleteImage(ctx context.Context, itemId, imageType string, index int) error
	UpdateItem(ctx context.Context, itemId string, item *emby.BaseItem) error
}

// resolveFunc 把目标范围解析为Emby条目id列表
type resolveFunc func(ctx context.Context, scope config.TargetScope, target string) ([]string, error)

// Manager 海报管理器：本地缓存与GitHub图床之间的备份和恢复
type Manager struct {
	emby         embyApi
	resolve      resolveFunc
	store        *githubstore.Store
	agg          *githubstore.Aggregator
	cfg          func() config.PosterManagerConfig
	persistSizes func(map[string]int64)
	dataDir      string
	log          *helpers.Logger
}

func NewManager(embyClient embyApi, resolve resolveFunc, store *githubstore.Store,
	agg *githubstore.Aggregator, cfg func() config.PosterManagerConfig,
	persistSizes func(map[string]int64), dataDir string, log *helpers.Logger) *Manager {
	return &Manager{
		emby:         embyClient,
		resolve:      resolve,
		store:        store,
		agg:          agg,
		cfg:          cfg,
		persistSizes: persistSizes,
		dataDir:      dataDir,
		log:          log.Cat("海报管理"),
	}
}

// scanLocalCache 扫描本地缓存目录，为范围内的媒体生成备份候选。
// 缺少TMDB ID的媒体直接跳过。
func (m *Manager) scanLocalCache(ctx context.Context, mediaIds, contentTypes []string) ([]githubstore.Candidate, error) {
	cfg := m.cfg()
	if cfg.LocalCachePath == "" || !helpers.PathExists(cfg.LocalCachePath) {
		return nil, fmt.Errorf("本地缓存路径 %q 无效或未配置", cfg.LocalCachePath)
	}

	var candidates []githubstore.Candidate
	for _, itemId := range mediaIds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, err := m.emby.GetItem(ctx, itemId, "Name,ProviderIds")
		if err != nil {
			m.log.Errorf("获取媒体 %s 详情失败: %v", itemId, err)
			continue
		}
		tmdbId := item.TmdbId()
		if tmdbId == "" {
			m.log.Warnf("跳过 %s，媒体项缺少TMDB ID", item.Name)
			continue
		}
		itemDir := filepath.Join(cfg.LocalCachePath, tmdbId)
		for _, ct := range contentTypes {
			filename, ok := cacheFileByType[ct]
			if !ok {
				continue
			}
			path := filepath.Join(itemDir, filename)
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			candidates = append(candidates, githubstore.Candidate{
				LocalPath:  path,
				TmdbId:     tmdbId,
				ImageType:  ct,
				RemotePath: remoteFilePath(tmdbId, ct),
				Size:       info.Size(),
			})
		}
	}
	m.log.Infof("本地缓存扫描完成，共找到 %d 个待处理文件", len(candidates))
	return candidates, nil
}

// patFor 按仓库URL找专属PAT，没有则用全局PAT
func patFor(cfg config.PosterManagerConfig, repoUrl string) string {
	for _, r := range cfg.GithubRepos {
		if r.RepoUrl == repoUrl && r.PersonalAccessToken != "" {
			return r.PersonalAccessToken
		}
	}
	return cfg.GlobalPersonalAccessToken
}

// executeDispatch 按配置的仓库顺序执行分发计划
func (m *Manager) executeDispatch(ctx context.Context, h *taskcenter.Handle,
	cfg config.PosterManagerConfig, plan githubstore.Plan, total int) (uploaded, failed int, err error) {
	done := 0
	for _, repo := range cfg.GithubRepos {
		repoPlan := plan[repo.RepoUrl]
		if repoPlan == nil || repoPlan.Empty() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return uploaded, failed, err
		}
		ref, err := githubstore.ParseRepoRef(repo.RepoUrl, repo.Branch, patFor(cfg, repo.RepoUrl))
		if err != nil {
			m.log.Errorf("跳过无效仓库配置: %v", err)
			continue
		}
		report, err := m.store.ExecutePlan(ctx, ref, repoPlan, cfg.FileUploadCooldownSeconds, func() {
			done++
			if h != nil {
				h.UpdateProgress(done, total)
			}
		})
		uploaded += report.Uploaded
		failed += report.Failed
		if err != nil {
			return uploaded, failed, err
		}
	}
	return uploaded, failed, nil
}

// refreshSizes 写会话结束后强制刷新聚合缓存并回写仓库占用
func (m *Manager) refreshSizes(ctx context.Context) {
	fresh, err := m.agg.Get(ctx, true)
	if err != nil {
		m.log.Errorf("刷新聚合索引失败: %v", err)
		return
	}
	if m.persistSizes != nil {
		m.persistSizes(githubstore.RepoSizes(fresh))
	}
}

// BackupTask 把本地缓存内指定范围的图片备份到GitHub图床
func (m *Manager) BackupTask(scope config.TargetScope, contentTypes []string) taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		cfg := m.cfg()
		if len(cfg.GithubRepos) == 0 {
			return nil, fmt.Errorf("未配置GitHub图床仓库")
		}
		if len(contentTypes) == 0 {
			contentTypes = AllContentTypes()
		}
		m.log.Infof("备份任务启动，范围: %s, 内容: %s, 覆盖: %v",
			scope.Mode, strings.Join(contentTypes, ","), cfg.OverwriteRemoteFiles)

		mediaIds, err := m.resolve(ctx, scope, selector.TargetAny)
		if err != nil {
			return nil, err
		}
		candidates, err := m.scanLocalCache(ctx, mediaIds, contentTypes)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return map[string]int{"uploaded_count": 0, "skipped_count": 0}, nil
		}

		remote, err := m.agg.Get(ctx, false)
		if err != nil {
			return nil, fmt.Errorf("获取聚合索引失败: %w", err)
		}
		newFiles, overwriteFiles, skipped := githubstore.Classify(candidates, remote, cfg.OverwriteRemoteFiles)
		if len(newFiles) == 0 && len(overwriteFiles) == 0 {
			m.log.Infof("全部 %d 个文件均已是最新版本，无需备份", skipped)
			return map[string]int{"uploaded_count": 0, "skipped_count": skipped}, nil
		}

		plan, err := githubstore.CalculateDispatchPlan(newFiles, overwriteFiles,
			cfg.GithubRepos, cfg.RepositorySizeThresholdMb, m.log)
		if err != nil {
			return nil, err
		}

		total := len(newFiles) + len(overwriteFiles)
		h.UpdateProgress(0, total)
		uploaded, failed, err := m.executeDispatch(ctx, h, cfg, plan, total)
		if err != nil {
			return nil, err
		}
		m.refreshSizes(ctx)
		m.log.Infof("备份任务完成: 上传 %d, 失败 %d, 跳过 %d", uploaded, failed, skipped)
		return map[string]int{"uploaded_count": uploaded, "failed_count": failed, "skipped_count": skipped}, nil
	}
}

// restoreItem 恢复计划里的一条待办
type restoreItem struct {
	ItemId      string
	ItemName    string
	TmdbId      string
	ContentType string
}

// buildRestorePlan 检查目标媒体的图片状态，产出需要恢复的条目。
// 未开启覆盖时已有对应图片的媒体被跳过。
func (m *Manager) buildRestorePlan(ctx context.Context, itemIds, contentTypes []string,
	remote map[string]githubstore.ImageEntry, overwrite bool) []restoreItem {
	var plan []restoreItem
	for _, itemId := range itemIds {
		if ctx.Err() != nil {
			return plan
		}
		item, err := m.emby.GetItem(ctx, itemId, "Name,ImageTags,ProviderIds")
		if err != nil {
			m.log.Errorf("获取媒体 %s 详情失败: %v", itemId, err)
			continue
		}
		tmdbId := item.TmdbId()
		if tmdbId == "" {
			continue
		}
		for _, ct := range contentTypes {
			if _, ok := remote[tmdbId+"-"+ct]; !ok {
				continue
			}
			if !overwrite && item.ImageTags[embyImageType[ct]] != "" {
				m.log.Infof("跳过 %s，已存在 %s 图片", item.Name, ct)
				continue
			}
			plan = append(plan, restoreItem{
				ItemId:      itemId,
				ItemName:    item.Name,
				TmdbId:      tmdbId,
				ContentType: ct,
			})
		}
	}
	return plan
}

// restoreFromEntry 下载远程备份并写回Emby。
// 旧图删除失败不视为错误，没有旧图时本来就会失败。
func (m *Manager) restoreFromEntry(ctx context.Context, cfg config.PosterManagerConfig,
	itemId, contentType string, entry githubstore.ImageEntry) error {
	if entry.Url == "" {
		return fmt.Errorf("远程备份记录缺少下载URL")
	}
	sleepCooldown(ctx, cfg.FileDownloadCooldownSeconds)
	data, err := m.store.Download(ctx, entry, patFor(cfg, entry.RepoUrl))
	if err != nil {
		return fmt.Errorf("下载远程备份失败: %w", err)
	}
	return m.uploadToEmby(ctx, itemId, contentType, data, contentTypeFor(contentType))
}

func (m *Manager) uploadToEmby(ctx context.Context, itemId, contentType string, data []byte, mimeType string) error {
	embyType := embyImageType[contentType]
	if embyType == "" {
		return fmt.Errorf("未知的图片类型 %q", contentType)
	}
	if err := m.emby.DeleteImage(ctx, itemId, embyType, 0); err != nil {
		m.log.Debugf("删除旧 %s 图片失败(可能本来就没有): %v", embyType, err)
	}
	return m.emby.UploadImage(ctx, itemId, embyType, data, mimeType)
}

// contentTypeFor 按图床类型猜MIME类型
func contentTypeFor(contentType string) string {
	if contentType == ContentLogo {
		return "image/png"
	}
	return "image/jpeg"
}

// RestoreFromRemoteTask 反向恢复：以远程备份为源，把图片写回Emby。
// 依赖定时任务生成的id_map.json做TMDB到Emby条目的反查。
func (m *Manager) RestoreFromRemoteTask(scope config.TargetScope, contentTypes []string) taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		cfg := m.cfg()
		if len(contentTypes) == 0 {
			contentTypes = AllContentTypes()
		}
		m.log.Infof("恢复任务启动，模式: 从远程备份恢复, 范围: %s, 内容: %s",
			scope.Mode, strings.Join(contentTypes, ","))

		remote, err := m.agg.Get(ctx, false)
		if err != nil {
			return nil, fmt.Errorf("获取聚合索引失败: %w", err)
		}
		if len(remote) == 0 {
			return nil, fmt.Errorf("无法获取远程聚合索引，任务中止")
		}

		if !helpers.PathExists(selector.IdMapPath(m.dataDir)) {
			return nil, fmt.Errorf("ID映射表 (id_map.json) 不存在，无法进行反向恢复。请先在定时任务页面生成映射表")
		}
		idMap, err := selector.LoadIdMap(m.dataDir)
		if err != nil {
			return nil, err
		}

		// 远程有备份的TMDB ID反查出本地Emby条目
		candidateIds := map[string]bool{}
		for key := range remote {
			for _, ct := range contentTypes {
				if strings.HasSuffix(key, "-"+ct) {
					tmdbId := strings.TrimSuffix(key, "-"+ct)
					for _, embyId := range idMap[tmdbId] {
						candidateIds[embyId] = true
					}
				}
			}
		}
		if len(candidateIds) == 0 {
			m.log.Info("远程备份中的媒体在本地Emby库中均未找到")
			return map[string]int{"restored_count": 0}, nil
		}

		// 与用户指定的范围取交集
		scopedIds, err := m.resolve(ctx, scope, selector.TargetAny)
		if err != nil {
			return nil, err
		}
		var finalIds []string
		for _, id := range scopedIds {
			if candidateIds[id] {
				finalIds = append(finalIds, id)
			}
		}
		if len(finalIds) == 0 {
			m.log.Info("指定范围内没有与远程备份匹配的媒体")
			return map[string]int{"restored_count": 0}, nil
		}
		m.log.Infof("范围过滤后需要检查 %d 个媒体实例", len(finalIds))

		plan := m.buildRestorePlan(ctx, finalIds, contentTypes, remote, cfg.OverwriteOnRestore)
		m.log.Infof("恢复计划构建完成，共需恢复 %d 张图片", len(plan))

		restored, failed := 0, 0
		h.UpdateProgress(0, len(plan))
		for i, it := range plan {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			entry := remote[it.TmdbId+"-"+it.ContentType]
			if err := m.restoreFromEntry(ctx, cfg, it.ItemId, it.ContentType, entry); err != nil {
				failed++
				m.log.Errorf("恢复 %s 的 %s 图片失败: %v", it.ItemName, it.ContentType, err)
			} else {
				restored++
				m.log.Infof("已恢复 %s 的 %s 图片", it.ItemName, it.ContentType)
			}
			h.UpdateProgress(i+1, len(plan))
		}
		m.log.Infof("恢复任务完成: 成功 %d, 失败 %d", restored, failed)
		return map[string]int{"restored_count": restored, "failed_count": failed}, nil
	}
}

// RestoreFromLocalTask 从本地缓存目录恢复图片到Emby
func (m *Manager) RestoreFromLocalTask(scope config.TargetScope, contentTypes []string) taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		cfg := m.cfg()
		if len(contentTypes) == 0 {
			contentTypes = AllContentTypes()
		}
		m.log.Infof("恢复任务启动，模式: 从本地缓存恢复, 范围: %s, 内容: %s",
			scope.Mode, strings.Join(contentTypes, ","))

		mediaIds, err := m.resolve(ctx, scope, selector.TargetAny)
		if err != nil {
			return nil, err
		}
		candidates, err := m.scanLocalCache(ctx, mediaIds, contentTypes)
		if err != nil {
			return nil, err
		}

		// 本地候选按键索引后套用统一的恢复计划检查
		local := map[string]githubstore.ImageEntry{}
		pathByKey := map[string]string{}
		for _, c := range candidates {
			local[c.Key()] = githubstore.ImageEntry{Size: c.Size}
			pathByKey[c.Key()] = c.LocalPath
		}
		plan := m.buildRestorePlan(ctx, mediaIds, contentTypes, local, cfg.OverwriteOnRestore)
		m.log.Infof("恢复计划构建完成，共需恢复 %d 张图片", len(plan))

		restored, failed := 0, 0
		h.UpdateProgress(0, len(plan))
		for i, it := range plan {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := m.restoreFromLocalFile(ctx, it.ItemId, it.ContentType, pathByKey[it.TmdbId+"-"+it.ContentType]); err != nil {
				failed++
				m.log.Errorf("恢复 %s 的 %s 图片失败: %v", it.ItemName, it.ContentType, err)
			} else {
				restored++
				m.log.Infof("已从本地恢复 %s 的 %s 图片", it.ItemName, it.ContentType)
			}
			h.UpdateProgress(i+1, len(plan))
		}
		m.log.Infof("恢复任务完成: 成功 %d, 失败 %d", restored, failed)
		return map[string]int{"restored_count": restored, "failed_count": failed}, nil
	}
}

func (m *Manager) restoreFromLocalFile(ctx context.Context, itemId, contentType, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("读取本地缓存文件失败: %w", err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(localPath))
	if mimeType == "" {
		mimeType = contentTypeFor(contentType)
	}
	return m.uploadToEmby(ctx, itemId, contentType, data, mimeType)
}

// BackupSingleImage 单体备份：从Emby取图写入本地缓存，再上传到图床。
// 单体操作总是覆盖远程旧文件。
func (m *Manager) BackupSingleImage(ctx context.Context, itemId, contentType string) error {
	cfg := m.cfg()
	filename, ok := cacheFileByType[contentType]
	if !ok {
		return fmt.Errorf("未知的图片类型 %q", contentType)
	}
	item, err := m.emby.GetItem(ctx, itemId, "Name,ProviderIds")
	if err != nil {
		return err
	}
	tmdbId := item.TmdbId()
	if tmdbId == "" {
		return fmt.Errorf("媒体项缺少TMDB ID")
	}

	data, _, err := m.emby.DownloadImage(ctx, itemId, embyImageType[contentType])
	if err != nil {
		return fmt.Errorf("从Emby下载图片失败: %w", err)
	}
	localDir := filepath.Join(cfg.LocalCachePath, tmdbId)
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return err
	}
	localPath := filepath.Join(localDir, filename)
	if err := os.WriteFile(localPath, data, 0644); err != nil {
		return fmt.Errorf("写入本地缓存失败: %w", err)
	}
	m.log.Infof("图片已下载并覆盖本地缓存: %s", localPath)

	candidate := githubstore.Candidate{
		LocalPath:  localPath,
		TmdbId:     tmdbId,
		ImageType:  contentType,
		RemotePath: remoteFilePath(tmdbId, contentType),
		Size:       int64(len(data)),
	}
	remote, err := m.agg.Get(ctx, false)
	if err != nil {
		return fmt.Errorf("获取聚合索引失败: %w", err)
	}
	newFiles, overwriteFiles, _ := githubstore.Classify([]githubstore.Candidate{candidate}, remote, true)
	plan, err := githubstore.CalculateDispatchPlan(newFiles, overwriteFiles,
		cfg.GithubRepos, cfg.RepositorySizeThresholdMb, m.log)
	if err != nil {
		return err
	}
	uploaded, failed, err := m.executeDispatch(ctx, nil, cfg, plan, 1)
	if err != nil {
		return err
	}
	if failed > 0 || uploaded == 0 {
		return fmt.Errorf("上传 %s 失败", candidate.RemotePath)
	}
	m.refreshSizes(ctx)
	m.log.Infof("单体备份完成: %s (%s)", item.Name, contentType)
	return nil
}

// DeleteSingleImage 单体删除：从图床删除图片和索引条目
func (m *Manager) DeleteSingleImage(ctx context.Context, itemId, contentType string) error {
	cfg := m.cfg()
	item, err := m.emby.GetItem(ctx, itemId, "Name,ProviderIds")
	if err != nil {
		return err
	}
	tmdbId := item.TmdbId()
	if tmdbId == "" {
		return fmt.Errorf("媒体项缺少TMDB ID")
	}

	remote, err := m.agg.Get(ctx, false)
	if err != nil {
		return fmt.Errorf("获取聚合索引失败: %w", err)
	}
	entry, ok := remote[tmdbId+"-"+contentType]
	if !ok {
		return fmt.Errorf("在远程备份中未找到该图片")
	}

	var repoCfg *config.GithubRepoConfig
	for i := range cfg.GithubRepos {
		if cfg.GithubRepos[i].RepoUrl == entry.RepoUrl {
			repoCfg = &cfg.GithubRepos[i]
			break
		}
	}
	if repoCfg == nil {
		return fmt.Errorf("配置中找不到仓库 %s", entry.RepoUrl)
	}
	ref, err := githubstore.ParseRepoRef(repoCfg.RepoUrl, repoCfg.Branch, patFor(cfg, repoCfg.RepoUrl))
	if err != nil {
		return err
	}
	if err := m.store.DeleteSingle(ctx, ref, tmdbId, contentType, remoteFilePath(tmdbId, contentType)); err != nil {
		return err
	}
	m.refreshSizes(ctx)
	m.log.Infof("单体删除完成: %s (%s)", item.Name, contentType)
	return nil
}

// RestoreSingleImage 单体恢复：从图床下载图片写回Emby
func (m *Manager) RestoreSingleImage(ctx context.Context, itemId, contentType string) error {
	cfg := m.cfg()
	item, err := m.emby.GetItem(ctx, itemId, "Name,ProviderIds")
	if err != nil {
		return err
	}
	tmdbId := item.TmdbId()
	if tmdbId == "" {
		return fmt.Errorf("媒体项缺少TMDB ID，无法进行恢复")
	}
	remote, err := m.agg.Get(ctx, false)
	if err != nil {
		return fmt.Errorf("获取聚合索引失败: %w", err)
	}
	entry, ok := remote[tmdbId+"-"+contentType]
	if !ok {
		return fmt.Errorf("在远程备份中未找到TMDB ID %s 的 %s 图片", tmdbId, contentType)
	}
	if err := m.restoreFromEntry(ctx, cfg, itemId, contentType, entry); err != nil {
		return err
	}
	m.log.Infof("单体恢复完成: %s (%s)", item.Name, contentType)
	return nil
}

// RepoDetail 仪表盘里的单仓库状态
type RepoDetail struct {
	Name           string `json:"name"`
	UsedBytes      int64  `json:"used_bytes"`
	ThresholdBytes int64  `json:"threshold_bytes"`
	LastChecked    string `json:"last_checked"`
}

// Stats 图床整体状态
type Stats struct {
	TotalImages        int            `json:"total_images"`
	TotalSizeBytes     int64          `json:"total_size_bytes"`
	RepoCount          int            `json:"repo_count"`
	TotalCapacityBytes int64          `json:"total_capacity_bytes"`
	TypeCounts         map[string]int `json:"type_counts"`
	RepoDetails        []RepoDetail   `json:"repo_details"`
}

// GetStats 仪表盘数据。force为true时重新聚合索引并回写仓库占用。
func (m *Manager) GetStats(ctx context.Context, force bool) (*Stats, error) {
	remote, err := m.agg.Get(ctx, force)
	if err != nil {
		return nil, fmt.Errorf("获取聚合索引失败: %w", err)
	}
	if force {
		m.refreshSizes(ctx)
	}
	return statsFromIndex(remote, m.cfg()), nil
}

func statsFromIndex(remote map[string]githubstore.ImageEntry, cfg config.PosterManagerConfig) *Stats {
	stats := &Stats{
		TotalImages: len(remote),
		RepoCount:   len(cfg.GithubRepos),
		TypeCounts:  map[string]int{ContentPoster: 0, ContentLogo: 0, ContentFanart: 0},
	}
	for key, entry := range remote {
		stats.TotalSizeBytes += entry.Size
		for _, ct := range AllContentTypes() {
			if strings.HasSuffix(key, "-"+ct) {
				stats.TypeCounts[ct]++
				break
			}
		}
	}
	thresholdBytes := cfg.RepositorySizeThresholdMb * 1024 * 1024
	for _, repo := range cfg.GithubRepos {
		name := repo.RepoUrl
		if ref, err := githubstore.ParseRepoRef(repo.RepoUrl, repo.Branch, ""); err == nil {
			name = ref.ShortName()
		}
		stats.RepoDetails = append(stats.RepoDetails, RepoDetail{
			Name:           name,
			UsedBytes:      repo.State.SizeBytes,
			ThresholdBytes: thresholdBytes,
			LastChecked:    repo.State.LastChecked,
		})
		stats.TotalCapacityBytes += thresholdBytes
	}
	return stats
}

// sleepCooldown 可中断的冷却等待
func sleepCooldown(ctx context.Context, seconds float64) {
	if seconds <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(seconds * float64(time.Second))):
	}
}
