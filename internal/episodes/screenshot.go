package episodes

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/disintegration/imaging"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/githubstore"
	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/taskcenter"
)

// 本地截图缓存目录，结构与远程仓库的EpisodeScreenshots一致
const screenshotDirName = "episode_screenshots"

var screenshotFilePattern = regexp.MustCompile(`^season-(\d+)-episode-(\d+)\.jpg$`)

// ScreenshotImageType 聚合索引里分集截图的类型名
func ScreenshotImageType(season, episode int) string {
	return fmt.Sprintf("season-%d-episode-%d", season, episode)
}

// ScreenshotKey 分集截图在聚合索引里的键
func ScreenshotKey(tmdbId string, season, episode int) string {
	return fmt.Sprintf("%s-%s", tmdbId, ScreenshotImageType(season, episode))
}

// ScreenshotRemotePath 分集截图在仓库内的路径
func ScreenshotRemotePath(tmdbId string, season, episode int) string {
	return fmt.Sprintf("EpisodeScreenshots/%s/season-%d-episode-%d.jpg", tmdbId, season, episode)
}

func localScreenshotPath(dataDir, tmdbId string, season, episode int) string {
	return filepath.Join(dataDir, screenshotDirName, tmdbId,
		fmt.Sprintf("season-%d-episode-%d.jpg", season, episode))
}

// CropTo169 把过宽的横图居中裁剪到16:9，输出JPEG。
// 宽高比不超过16:9时原样返回。
func CropTo169(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("解码截图失败: %w", err)
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w*9 <= h*16 {
		return data, nil
	}
	targetW := h * 16 / 9
	cropped := imaging.CropCenter(img, targetW, h)
	return encodeJPEG(cropped)
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(92)); err != nil {
		return nil, fmt.Errorf("编码截图失败: %w", err)
	}
	return buf.Bytes(), nil
}

// scanLocalScreenshots 扫描本地截图缓存，产出备份候选
func scanLocalScreenshots(dataDir string) ([]githubstore.Candidate, error) {
	root := filepath.Join(dataDir, screenshotDirName)
	if !helpers.PathExists(root) {
		return nil, nil
	}
	tmdbDirs, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("读取截图缓存目录失败: %w", err)
	}
	var candidates []githubstore.Candidate
	for _, dir := range tmdbDirs {
		if !dir.IsDir() {
			continue
		}
		tmdbId := dir.Name()
		files, err := os.ReadDir(filepath.Join(root, tmdbId))
		if err != nil {
			continue
		}
		for _, f := range files {
			m := screenshotFilePattern.FindStringSubmatch(f.Name())
			if m == nil {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			season, _ := strconv.Atoi(m[1])
			episode, _ := strconv.Atoi(m[2])
			candidates = append(candidates, githubstore.Candidate{
				LocalPath:  filepath.Join(root, tmdbId, f.Name()),
				TmdbId:     tmdbId,
				ImageType:  ScreenshotImageType(season, episode),
				RemotePath: ScreenshotRemotePath(tmdbId, season, episode),
				Size:       info.Size(),
			})
		}
	}
	return candidates, nil
}

// ScreenshotBackup 把本地截图缓存备份到GitHub图床仓库，
// 走与海报备份相同的分发计划和锁会话。
type ScreenshotBackup struct {
	store        *githubstore.Store
	agg          *githubstore.Aggregator
	posterCfg    func() config.PosterManagerConfig
	refresherCfg func() config.EpisodeRefresherConfig
	persistSizes func(map[string]int64)
	dataDir      string
	log          *helpers.Logger
}

func NewScreenshotBackup(store *githubstore.Store, agg *githubstore.Aggregator,
	posterCfg func() config.PosterManagerConfig, refresherCfg func() config.EpisodeRefresherConfig,
	persistSizes func(map[string]int64), dataDir string, log *helpers.Logger) *ScreenshotBackup {
	return &ScreenshotBackup{
		store:        store,
		agg:          agg,
		posterCfg:    posterCfg,
		refresherCfg: refresherCfg,
		persistSizes: persistSizes,
		dataDir:      dataDir,
		log:          log.Cat("截图备份"),
	}
}

// BackupTask 扫描本地截图缓存并上传到图床
func (b *ScreenshotBackup) BackupTask() taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		cfg := b.posterCfg()
		if len(cfg.GithubRepos) == 0 {
			return nil, fmt.Errorf("未配置GitHub图床仓库")
		}
		candidates, err := scanLocalScreenshots(b.dataDir)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			b.log.Info("本地截图缓存为空，无需备份")
			return map[string]int{"uploaded_count": 0, "skipped_count": 0}, nil
		}
		b.log.Infof("本地截图缓存共 %d 个文件", len(candidates))

		remote, err := b.agg.Get(ctx, false)
		if err != nil {
			return nil, fmt.Errorf("获取聚合索引失败: %w", err)
		}
		overwrite := b.refresherCfg().ForceOverwriteScreenshots
		newFiles, overwriteFiles, skipped := githubstore.Classify(candidates, remote, overwrite)
		if len(newFiles) == 0 && len(overwriteFiles) == 0 {
			b.log.Infof("全部 %d 个截图已在远程，无需上传", skipped)
			return map[string]int{"uploaded_count": 0, "skipped_count": skipped}, nil
		}

		plan, err := githubstore.CalculateDispatchPlan(newFiles, overwriteFiles,
			cfg.GithubRepos, cfg.RepositorySizeThresholdMb, b.log)
		if err != nil {
			return nil, err
		}

		total := len(newFiles) + len(overwriteFiles)
		done := 0
		h.UpdateProgress(0, total)
		uploaded, failed := 0, 0
		for _, repo := range cfg.GithubRepos {
			repoPlan := plan[repo.RepoUrl]
			if repoPlan == nil || repoPlan.Empty() {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			pat := repo.PersonalAccessToken
			if pat == "" {
				pat = cfg.GlobalPersonalAccessToken
			}
			ref, err := githubstore.ParseRepoRef(repo.RepoUrl, repo.Branch, pat)
			if err != nil {
				b.log.Errorf("跳过无效仓库配置: %v", err)
				continue
			}
			report, err := b.store.ExecutePlan(ctx, ref, repoPlan, cfg.FileUploadCooldownSeconds, func() {
				done++
				h.UpdateProgress(done, total)
			})
			uploaded += report.Uploaded
			failed += report.Failed
			if err != nil {
				return nil, err
			}
		}

		// 写会话结束后强制刷新聚合缓存并重算仓库占用
		fresh, err := b.agg.Get(ctx, true)
		if err == nil && b.persistSizes != nil {
			b.persistSizes(githubstore.RepoSizes(fresh))
		}
		b.log.Infof("截图备份完成: 上传 %d, 失败 %d, 跳过 %d", uploaded, failed, skipped)
		return map[string]int{"uploaded_count": uploaded, "failed_count": failed, "skipped_count": skipped}, nil
	}
}

// SaveLocalScreenshot 把一张截图写入本地缓存目录
func SaveLocalScreenshot(dataDir, tmdbId string, season, episode int, data []byte) error {
	path := localScreenshotPath(dataDir, tmdbId, season, episode)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
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
