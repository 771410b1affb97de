package githubstore

import (
	"fmt"
	"path/filepath"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/helpers"
)

// Candidate 一个待上传的本地文件
type Candidate struct {
	LocalPath  string
	TmdbId     string
	ImageType  string
	RemotePath string // 仓库内的目标路径
	Size       int64
	Remote     *ImageEntry // 覆盖时指向现有远程条目
}

func (c Candidate) Key() string {
	return fmt.Sprintf("%s-%s", c.TmdbId, c.ImageType)
}

// Classify 按远程索引把候选文件分为新增和覆盖两类。
// 远程已存在且未开启覆盖的文件被跳过。
func Classify(candidates []Candidate, remote map[string]ImageEntry, overwrite bool) (newFiles, overwriteFiles []Candidate, skipped int) {
	for _, c := range candidates {
		entry, ok := remote[c.Key()]
		switch {
		case !ok:
			newFiles = append(newFiles, c)
		case overwrite:
			e := entry
			c.Remote = &e
			overwriteFiles = append(overwriteFiles, c)
		default:
			skipped++
		}
	}
	return
}

// RepoPlan 单个仓库的待办
type RepoPlan struct {
	Overwrite []Candidate
	New       []Candidate
}

func (p *RepoPlan) Empty() bool {
	return len(p.Overwrite) == 0 && len(p.New) == 0
}

// Plan 分发计划，按仓库URL索引
type Plan map[string]*RepoPlan

// CalculateDispatchPlan 生成文件分发计划。
// 覆盖文件必须回到原仓库，按(tmdb_id, 仓库)分组核算净增量；
// 新文件按作品分组整体分配，放不下时降级为逐文件首次适配。
func CalculateDispatchPlan(newFiles, overwriteFiles []Candidate, repos []config.GithubRepoConfig, thresholdMb int64, log *helpers.Logger) (Plan, error) {
	plan := Plan{}
	thresholdBytes := thresholdMb * 1024 * 1024
	remaining := map[string]int64{}
	for _, repo := range repos {
		plan[repo.RepoUrl] = &RepoPlan{}
		remaining[repo.RepoUrl] = thresholdBytes - repo.State.SizeBytes
	}

	// 覆盖组：同一作品在同一仓库的覆盖一起核算
	type overwriteGroup struct {
		files []Candidate
		delta int64
	}
	overwriteGroups := map[[2]string]*overwriteGroup{}
	var overwriteOrder [][2]string
	for _, c := range overwriteFiles {
		if c.Remote == nil {
			return nil, fmt.Errorf("覆盖文件 %s 缺少远程条目", c.LocalPath)
		}
		key := [2]string{c.TmdbId, c.Remote.RepoUrl}
		g, ok := overwriteGroups[key]
		if !ok {
			g = &overwriteGroup{}
			overwriteGroups[key] = g
			overwriteOrder = append(overwriteOrder, key)
		}
		g.files = append(g.files, c)
		g.delta += c.Size - c.Remote.Size
	}
	for _, key := range overwriteOrder {
		tmdbId, repoUrl := key[0], key[1]
		g := overwriteGroups[key]
		rem, known := remaining[repoUrl]
		if !known || rem < g.delta {
			return nil, fmt.Errorf("文件覆盖失败: 覆盖 TMDB ID %s 的文件将导致仓库 %s 超出容量限制", tmdbId, repoUrl)
		}
		plan[repoUrl].Overwrite = append(plan[repoUrl].Overwrite, g.files...)
		remaining[repoUrl] -= g.delta
		log.Infof("[计划-覆盖] [%s] %d 个文件 -> 原仓库 %s (空间变化 %+.2f MB)",
			tmdbId, len(g.files), repoUrl, float64(g.delta)/1024/1024)
	}

	// 新增组：按作品分组
	type newGroup struct {
		files []Candidate
		total int64
	}
	newGroups := map[string]*newGroup{}
	var newOrder []string
	for _, c := range newFiles {
		g, ok := newGroups[c.TmdbId]
		if !ok {
			g = &newGroup{}
			newGroups[c.TmdbId] = g
			newOrder = append(newOrder, c.TmdbId)
		}
		g.files = append(g.files, c)
		g.total += c.Size
	}
	for _, tmdbId := range newOrder {
		g := newGroups[tmdbId]
		placed := false
		for _, repo := range repos {
			if remaining[repo.RepoUrl] >= g.total {
				plan[repo.RepoUrl].New = append(plan[repo.RepoUrl].New, g.files...)
				remaining[repo.RepoUrl] -= g.total
				log.Infof("[计划-打包] [%s] 图片组 (共 %d 项, %.2f MB) -> %s",
					tmdbId, len(g.files), float64(g.total)/1024/1024, repo.RepoUrl)
				placed = true
				break
			}
		}
		if placed {
			continue
		}
		log.Warnf("[计划-降级] [%s] 图片组 (总大小 %.2f MB) 无法整体放入任何仓库，尝试单独分配",
			tmdbId, float64(g.total)/1024/1024)
		for _, c := range g.files {
			fit := false
			for _, repo := range repos {
				if remaining[repo.RepoUrl] >= c.Size {
					plan[repo.RepoUrl].New = append(plan[repo.RepoUrl].New, c)
					remaining[repo.RepoUrl] -= c.Size
					log.Infof("[计划-降级分配] %s (%.2f MB) -> %s",
						filepath.Base(c.LocalPath), float64(c.Size)/1024/1024, repo.RepoUrl)
					fit = true
					break
				}
			}
			if !fit {
				return nil, fmt.Errorf("文件分配失败: 文件 %s (%.2f MB) 过大，所有仓库均无足够空间容纳",
					c.LocalPath, float64(c.Size)/1024/1024)
			}
		}
	}

	return plan, nil
}
