package sync

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/conorfennell/knolroom/internal/domain"
	"github.com/conorfennell/knolroom/internal/errs"
	"github.com/conorfennell/knolroom/internal/room"
	"github.com/conorfennell/knolroom/internal/service"
	"github.com/conorfennell/knolroom/internal/storage"
)

func newCards(t *testing.T) *service.FlashcardServiceImpl {
	t.Helper()
	fb, err := storage.NewFileBackend[domain.Flashcard](t.TempDir(), "flashcards", "cards")
	require.NoError(t, err)
	reg := room.New[domain.Flashcard](fb)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	return service.NewFlashcardService(reg, nil, zaptest.NewLogger(t))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestImportDeck_LocalDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "deck", "go.md"), `
Q: What does defer do?
A: Runs a call when the function returns.
C: go, basics

Q: What is a goroutine?
A: A lightweight thread.
`)
	writeFile(t, filepath.Join(root, "deck", "more", "dup.md"), `
Q: what does DEFER do?
A: runs a call when the function returns.
---
Q: What is a channel?
A: A typed conduit.
`)
	writeFile(t, filepath.Join(root, "deck", "notes.txt"), "Q: ignored\nA: ignored\n")

	cards := newCards(t)
	im := NewImporter(cards, t.TempDir(), root, zaptest.NewLogger(t))
	ctx := context.Background()

	rep, err := im.ImportDeck(ctx, "r1", "deck")
	require.NoError(t, err)
	require.Equal(t, 4, rep.Parsed)
	require.Equal(t, 3, rep.Added)
	require.Equal(t, 1, rep.Skipped)
	require.Empty(t, rep.Errors)

	stored, err := cards.ListCards(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	require.Equal(t, []string{"go", "basics"}, stored[0].Tags)

	rep, err = im.ImportDeck(ctx, "r1", filepath.Join(root, "deck"))
	require.NoError(t, err)
	require.Equal(t, 0, rep.Added)
	require.Equal(t, 4, rep.Skipped)
}

func TestImportDeck_ReportsUnparsableFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "deck", "good.md"), "Q: q\nA: a\n")
	writeFile(t, filepath.Join(root, "deck", "huge.md"), "Q: "+strings.Repeat("x", 70*1024)+"\nA: a\n")

	im := NewImporter(newCards(t), t.TempDir(), root, nil)
	rep, err := im.ImportDeck(context.Background(), "r1", "deck")
	require.NoError(t, err)
	require.Equal(t, 1, rep.Added)
	require.Len(t, rep.Errors, 1)
	require.Contains(t, rep.Errors[0], "huge.md")
}

func TestImportDeck_RejectsBadSources(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	writeFile(t, filepath.Join(root, "deck.md"), "Q: q\nA: a\n")

	im := NewImporter(newCards(t), t.TempDir(), root, nil)
	for _, source := range []string{"", "../", outside, "missing", "deck.md"} {
		_, err := im.ImportDeck(context.Background(), "r1", source)
		require.ErrorIs(t, err, errs.ErrValidation, source)
	}

	disabled := NewImporter(newCards(t), t.TempDir(), "", nil)
	_, err := disabled.ImportDeck(context.Background(), "r1", root)
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestImportDeck_GitSource(t *testing.T) {
	reposDir := t.TempDir()
	im := NewImporter(newCards(t), reposDir, "", zaptest.NewLogger(t))

	var synced string
	im.syncRepo = func(_ context.Context, url, localPath string, _ *zap.Logger) error {
		synced = localPath
		writeFile(t, filepath.Join(localPath, "README.md"), "Q: from git\nA: yes\n")
		return nil
	}

	rep, err := im.ImportDeck(context.Background(), "r1", "git@github.com:knol/decks.git")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(reposDir, "github.com", "knol", "decks"), synced)
	require.Equal(t, 1, rep.Added)
}

func TestGitUrlToLocalPath(t *testing.T) {
	testCases := []struct {
		name     string
		url      string
		expected string
		wantErr  bool
	}{
		{"https", "https://github.com/knol/decks.git", filepath.Join("repos", "github.com", "knol", "decks"), false},
		{"ssh", "git@gitlab.com:team/cards.git", filepath.Join("repos", "gitlab.com", "team", "cards"), false},
		{"not a url", "decks.git", "", true},
		{"escapes", "git@host:../../etc.git", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := gitUrlToLocalPath("repos", tc.url)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, got)
		})
	}
}
