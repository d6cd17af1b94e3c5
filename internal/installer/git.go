package installer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/sirupsen/logrus"

	"github.com/build-hub/build-hub/internal/installation"
	"github.com/build-hub/build-hub/internal/moduleset"
	"github.com/build-hub/build-hub/internal/registry"
)

// DefaultGitHubURL 是 owner/repo 简写展开时使用的主机。
const DefaultGitHubURL = "https://github.com"

var (
	// ErrNoMatchingVersion 表示仓库中没有满足范围的 tag。
	ErrNoMatchingVersion = errors.New("no version satisfies range")
	// ErrNoRegistry 表示需要注册中心解析包名但未配置。
	ErrNoRegistry = errors.New("package registry is not configured")
)

// PackageResolver 将包名映射为仓库地址；registry.Client 满足该接口。
type PackageResolver interface {
	Lookup(ctx context.Context, name string) (registry.Package, error)
}

// GitOptions 配置 Git 安装器。
type GitOptions struct {
	Registry  PackageResolver
	GitHubURL string
	Username  string
	Password  string
	// Depth 为检出深度，0 表示完整克隆。
	Depth  int
	Logger *logrus.Logger
}

// Git 是基于 go-git 的安装器，不依赖本机 git 可执行文件。
type Git struct {
	registry  PackageResolver
	githubURL string
	auth      *githttp.BasicAuth
	depth     int
	logger    *logrus.Logger
}

var _ installation.Installer = (*Git)(nil)

// NewGit 构造安装器；仅在同时提供用户名与密码时对 GitHub 请求附加 Basic 认证。
func NewGit(opts GitOptions) *Git {
	githubURL := strings.TrimRight(opts.GitHubURL, "/")
	if githubURL == "" {
		githubURL = DefaultGitHubURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	g := &Git{
		registry:  opts.Registry,
		githubURL: githubURL,
		depth:     opts.Depth,
		logger:    logger,
	}
	if opts.Username != "" && opts.Password != "" {
		g.auth = &githttp.BasicAuth{Username: opts.Username, Password: opts.Password}
	}
	return g
}

// Install 实现 installation.Installer。请求的模块先入队，依赖按名称排序后追加；
// 同名包只安装第一次解析到的版本。Locks 中出现的包总是使用锁定版本。
func (g *Git) Install(ctx context.Context, req installation.Request, targetDir string) (map[string]moduleset.Resolved, error) {
	locks := make(map[string]moduleset.Specifier, req.Locks.Len())
	for _, spec := range req.Locks.Specifiers() {
		locks[spec.Name] = spec
	}

	queue := req.Modules.Specifiers()
	resolved := make(map[string]moduleset.Resolved)
	for len(queue) > 0 {
		spec := queue[0]
		queue = queue[1:]
		if _, done := resolved[spec.Name]; done {
			continue
		}
		if lock, ok := locks[spec.Name]; ok {
			spec = applyLock(spec, lock)
		}
		info, deps, err := g.installOne(ctx, spec, filepath.Join(targetDir, spec.Name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", spec.String(), err)
		}
		resolved[spec.Name] = info
		queue = append(queue, deps...)
	}
	return resolved, nil
}

func (g *Git) installOne(ctx context.Context, spec moduleset.Specifier, dir string) (moduleset.Resolved, []moduleset.Specifier, error) {
	repoURL, err := g.repoURL(ctx, spec)
	if err != nil {
		return moduleset.Resolved{}, nil, err
	}
	tags, err := g.listTags(ctx, repoURL)
	if err != nil {
		return moduleset.Resolved{}, nil, err
	}
	version, tag, err := SelectVersion(tags, spec.Range)
	if err != nil {
		return moduleset.Resolved{}, nil, err
	}

	g.logger.WithFields(logrus.Fields{
		"action":  "install_package",
		"package": spec.Name,
		"range":   spec.Range,
		"version": version,
	}).Debug("checking out package")

	if err := g.checkout(ctx, repoURL, tag, dir); err != nil {
		return moduleset.Resolved{}, nil, err
	}

	var deps []moduleset.Specifier
	manifest, err := installation.ReadManifest(dir)
	switch {
	case err == nil:
		deps, err = DependencySpecifiers(manifest.Dependencies)
		if err != nil {
			return moduleset.Resolved{}, nil, err
		}
	case errors.Is(err, installation.ErrManifestNotFound):
	default:
		return moduleset.Resolved{}, nil, err
	}

	info := moduleset.Resolved{Version: version, OriginalSource: spec.Name}
	if spec.Source != "" {
		// 带 source 的包以 source@version 形式写入 shrinkwrap，重放时仍指向同一仓库。
		info.OriginalSource = spec.Source + "@" + version
	}
	return info, deps, nil
}

func (g *Git) repoURL(ctx context.Context, spec moduleset.Specifier) (string, error) {
	if spec.Source != "" {
		return g.expandSource(spec.Source), nil
	}
	if g.registry == nil {
		return "", ErrNoRegistry
	}
	pkg, err := g.registry.Lookup(ctx, spec.Name)
	if err != nil {
		return "", err
	}
	return g.expandSource(pkg.URL), nil
}

func (g *Git) expandSource(source string) string {
	if strings.Contains(source, "://") || strings.HasPrefix(source, "git@") || filepath.IsAbs(source) {
		return source
	}
	return g.githubURL + "/" + strings.TrimSuffix(source, ".git") + ".git"
}

func (g *Git) authFor(repoURL string) transport.AuthMethod {
	if g.auth == nil {
		return nil
	}
	u, err := url.Parse(repoURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") {
		return nil
	}
	github, err := url.Parse(g.githubURL)
	if err != nil || !strings.EqualFold(u.Host, github.Host) {
		return nil
	}
	return g.auth
}

func (g *Git) listTags(ctx context.Context, repoURL string) ([]string, error) {
	remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: git.DefaultRemoteName,
		URLs: []string{repoURL},
	})
	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: g.authFor(repoURL)})
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	tags := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.Name().IsTag() {
			tags = append(tags, ref.Name().Short())
		}
	}
	return tags, nil
}

func (g *Git) checkout(ctx context.Context, repoURL, tag, dir string) error {
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return err
	}
	_, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:           repoURL,
		Auth:          g.authFor(repoURL),
		ReferenceName: plumbing.NewTagReferenceName(tag),
		SingleBranch:  true,
		Depth:         g.depth,
		Tags:          git.NoTags,
	})
	if err != nil {
		return fmt.Errorf("checkout %s: %w", tag, err)
	}
	return os.RemoveAll(filepath.Join(dir, git.GitDirName))
}

// SelectVersion 返回满足范围的最高版本及其对应 tag；预发布版本仅在范围显式包含时才会被选中。
func SelectVersion(tags []string, rng string) (string, string, error) {
	constraint, err := parseRange(rng)
	if err != nil {
		return "", "", err
	}
	var (
		best    *semver.Version
		bestTag string
	)
	for _, tag := range tags {
		v, err := semver.NewVersion(tag)
		if err != nil {
			continue
		}
		if constraint != nil && !constraint.Check(v) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best, bestTag = v, tag
		}
	}
	if best == nil {
		return "", "", fmt.Errorf("%w %q", ErrNoMatchingVersion, rng)
	}
	return best.String(), bestTag, nil
}

func parseRange(rng string) (*semver.Constraints, error) {
	switch strings.TrimSpace(rng) {
	case "", moduleset.AnyRange, "latest":
		return nil, nil
	}
	constraint, err := semver.NewConstraint(rng)
	if err != nil {
		return nil, fmt.Errorf("invalid version range %q: %w", rng, err)
	}
	return constraint, nil
}

// DependencySpecifiers 将 bower.json 的 dependencies 转为按名称排序的 Specifier。
// 值可以是范围（^1.2.0）、仓库（owner/repo）或 仓库#范围 三种形式。
func DependencySpecifiers(deps map[string]string) ([]moduleset.Specifier, error) {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]moduleset.Specifier, 0, len(names))
	for _, name := range names {
		value := strings.TrimSpace(deps[name])
		spec := moduleset.Specifier{Name: name, Range: moduleset.AnyRange}
		source, rng, hasHash := strings.Cut(value, "#")
		switch {
		case hasHash:
			spec.Source, spec.Range = source, rng
		case strings.Contains(value, "/"):
			spec.Source = value
		case value != "":
			spec.Range = value
		}
		if spec.Range == "" {
			spec.Range = moduleset.AnyRange
		}
		if spec.Source != "" {
			parsed, err := moduleset.ParseSpecifier(spec.Source)
			if err != nil {
				return nil, fmt.Errorf("dependency %s: %w", name, err)
			}
			spec.Source = parsed.Source
		}
		out = append(out, spec)
	}
	return out, nil
}

func applyLock(spec, lock moduleset.Specifier) moduleset.Specifier {
	spec.Range = lock.Range
	if lock.Source != "" {
		spec.Source = lock.Source
	}
	return spec
}
