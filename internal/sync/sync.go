// Package sync imports markdown flashcard decks into a room.
package sync

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/conorfennell/knolroom/internal/domain"
	"github.com/conorfennell/knolroom/internal/errs"
	"github.com/conorfennell/knolroom/internal/gitsource"
	"github.com/conorfennell/knolroom/internal/parser"
	"github.com/conorfennell/knolroom/internal/service"
)

const parseWorkers = 8

// Report summarizes one import.
type Report struct {
	Source  string   `json:"source"`
	Parsed  int      `json:"parsed"`
	Added   int      `json:"added"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors"`
}

// Importer reads decks from local directories or git repositories.
type Importer struct {
	cards     service.FlashcardService
	reposDir  string
	localRoot string
	log       *zap.Logger
	syncRepo  func(ctx context.Context, url, localPath string, log *zap.Logger) error
}

// NewImporter constructs an Importer. Git checkouts live under reposDir and
// local sources must resolve inside localRoot. An empty localRoot disables
// local sources.
func NewImporter(cards service.FlashcardService, reposDir, localRoot string, log *zap.Logger) *Importer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Importer{
		cards:     cards,
		reposDir:  reposDir,
		localRoot: localRoot,
		log:       log,
		syncRepo:  gitsource.Sync,
	}
}

// ImportDeck parses every .md file under source and merges the cards into
// roomID. Files that fail to parse are listed in the report; the rest are
// still imported.
func (im *Importer) ImportDeck(ctx context.Context, roomID, source string) (Report, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return Report{}, errs.Validation("source must not be empty")
	}

	dir, err := im.resolve(ctx, source)
	if err != nil {
		return Report{}, err
	}

	entries, parseErrs, err := parseDir(ctx, dir)
	if err != nil {
		return Report{}, fmt.Errorf("read deck %s: %w", source, err)
	}

	in := make([]service.NewCard, 0, len(entries))
	for _, e := range entries {
		in = append(in, service.NewCard{Question: e.Question, Answer: e.Answer, Tags: e.Tags})
	}
	res, err := im.cards.MergeCards(ctx, roomID, in)
	if err != nil {
		return Report{}, err
	}

	rep := Report{
		Source:  source,
		Parsed:  len(entries),
		Added:   len(res.Added),
		Skipped: res.Skipped,
		Errors:  make([]string, 0, len(parseErrs)),
	}
	for _, e := range parseErrs {
		rep.Errors = append(rep.Errors, e.Error())
	}
	im.log.Info("deck imported",
		zap.String("room", roomID),
		zap.String("source", source),
		zap.Int("parsed", rep.Parsed),
		zap.Int("added", rep.Added),
		zap.Int("skipped", rep.Skipped),
		zap.Int("errors", len(rep.Errors)),
	)
	return rep, nil
}

// resolve returns the local directory holding the deck, syncing git sources
// first.
func (im *Importer) resolve(ctx context.Context, source string) (string, error) {
	if isGitSource(source) {
		localPath, err := gitUrlToLocalPath(im.reposDir, source)
		if err != nil {
			return "", errs.Validation("%v", err)
		}
		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return "", fmt.Errorf("create repos dir: %w", err)
		}
		if err := im.syncRepo(ctx, source, localPath, im.log); err != nil {
			return "", err
		}
		return localPath, nil
	}

	if im.localRoot == "" {
		return "", errs.Validation("local deck sources are disabled")
	}
	root, err := filepath.Abs(im.localRoot)
	if err != nil {
		return "", err
	}
	dir := source
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	dir = filepath.Clean(dir)
	if rel, err := filepath.Rel(root, dir); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errs.Validation("source %q is outside the import root", source)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", errs.Validation("source %q is not a directory", source)
	}
	return dir, nil
}

// parseDir parses the markdown files under dir in parallel. Entries keep
// the walk order so repeated imports assign ids the same way.
func parseDir(ctx context.Context, dir string) ([]domain.DeckEntry, []error, error) {
	var files []string
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if !d.IsDir() && strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			files = append(files, path)
		}
		return nil
	})
	if walkErr != nil {
		return nil, nil, walkErr
	}

	perFile := make([][]domain.DeckEntry, len(files))
	fileErrs := make([]error, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parseWorkers)
	for i, path := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			entries, err := parser.ParseFile(path)
			if err != nil {
				fileErrs[i] = fmt.Errorf("parsing %s: %w", path, err)
				return nil
			}
			perFile[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var entries []domain.DeckEntry
	var parseErrs []error
	for i := range files {
		entries = append(entries, perFile[i]...)
		if fileErrs[i] != nil {
			parseErrs = append(parseErrs, fileErrs[i])
		}
	}
	return entries, parseErrs, nil
}

func isGitSource(source string) bool {
	return strings.HasSuffix(source, ".git") ||
		strings.HasPrefix(source, "git@") ||
		strings.HasPrefix(source, "https://") ||
		strings.HasPrefix(source, "http://")
}

func gitUrlToLocalPath(baseDir, repoURL string) (string, error) {
	parsedURL, err := url.Parse(repoURL)
	if err != nil || (parsedURL.Scheme != "https" && parsedURL.Scheme != "http") {
		if strings.Contains(repoURL, "@") {
			parts := strings.Split(repoURL, ":")
			if len(parts) == 2 {
				hostAndUser := strings.Split(parts[0], "@")
				if len(hostAndUser) == 2 {
					host := hostAndUser[1]
					repoPath := strings.TrimSuffix(parts[1], ".git")
					return confine(baseDir, host, repoPath)
				}
			}
		}
		return "", fmt.Errorf("could not parse git URL: %s", repoURL)
	}

	sanitizedPath := strings.TrimSuffix(parsedURL.Path, ".git")
	return confine(baseDir, parsedURL.Host, sanitizedPath)
}

// confine joins the parts under baseDir and rejects results that leave it.
func confine(baseDir string, parts ...string) (string, error) {
	p := filepath.Join(append([]string{baseDir}, parts...)...)
	rel, err := filepath.Rel(baseDir, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("git URL escapes repos dir: %s", strings.Join(parts, "/"))
	}
	return p, nil
}
